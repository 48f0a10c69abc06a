package rest

import (
	"context"

	"github.com/intake/fileswatcher/internal/agent"
	"github.com/intake/fileswatcher/internal/intake"
	"github.com/intake/fileswatcher/internal/records"
)

// AgentStatus is the subset of *agent.Agent read by the handlers.
type AgentStatus interface {
	Health() agent.HealthStatus
	Targets() []intake.WatchTarget
}

// RecordLister is the subset of records.Store read by the handlers.
type RecordLister interface {
	List(ctx context.Context, q records.Query) ([]intake.Record, error)
	Count(ctx context.Context) (int64, error)
}
