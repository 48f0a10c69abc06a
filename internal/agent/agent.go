// Package agent contains the intake agent: it registers the incoming
// directory of every active file type with a watch service, hands each file
// that appears there to the intake processor and manages the lifecycle of
// the watch loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/intake/fileswatcher/internal/intake"
	"github.com/intake/fileswatcher/internal/metrics"
	"github.com/intake/fileswatcher/internal/watcher"
)

// FileProcessor handles one candidate file of a watch target.
// *intake.Processor implements it.
type FileProcessor interface {
	ProcessFile(ctx context.Context, target intake.WatchTarget, path string)
}

// ServiceFactory builds a fresh watch service. It is called on every Setup.
type ServiceFactory func() (watcher.Service, error)

// Agent owns the watch registrations and runs the watch loop.
type Agent struct {
	catalog    intake.Catalog
	processor  FileProcessor
	newService ServiceFactory
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu           sync.RWMutex
	service      watcher.Service
	keys         map[watcher.Key]intake.WatchTarget
	running      bool
	startTime    time.Time
	lastIntakeAt time.Time
}

// Option is a functional option for Agent construction.
type Option func(*Agent)

// WithMetrics records registration and loop state on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates an Agent. Nothing is watched until Start or Setup is called.
func New(catalog intake.Catalog, processor FileProcessor, newService ServiceFactory, logger *slog.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		catalog:    catalog,
		processor:  processor,
		newService: newService,
		logger:     logger,
		keys:       make(map[watcher.Key]intake.WatchTarget),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs Setup and then the watch loop on the calling goroutine. It
// returns once the agent has stopped: after Stop, after ctx is cancelled, or
// when no registered directory remains. Errors are logged, never returned.
func (a *Agent) Start(ctx context.Context) {
	a.logger.Info("agent: starting")
	if !a.Setup(ctx) {
		a.logger.Error("agent: setup failed, not watching")
		a.Stop()
		return
	}
	if a.registrations() == 0 {
		a.logger.Warn("agent: no directories registered, stopping")
		a.Stop()
		return
	}

	a.logger.Info("agent: watching", slog.Int("directories", a.registrations()))
	for a.IsRunning() {
		a.waitForSignal(ctx)
	}
	a.logger.Info("agent: watch loop exited")
}

// Stop cancels every key, closes the watch service and marks the agent
// stopped. It is safe to call multiple times and from any goroutine; it does
// not wait for the watch loop to exit.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running && a.service == nil && len(a.keys) == 0 {
		a.mu.Unlock()
		return
	}
	keys := a.keys
	svc := a.service
	a.keys = make(map[watcher.Key]intake.WatchTarget)
	a.service = nil
	a.running = false
	a.mu.Unlock()

	for k := range keys {
		k.Cancel()
	}
	if svc != nil {
		if err := svc.Close(); err != nil {
			a.logger.Warn("agent: error closing watch service", slog.Any("error", err))
		}
	}
	a.metrics.SetRegistrations(0)
	a.metrics.SetRunning(false)
	a.logger.Info("agent: stopped")
}

// IsRunning reports whether the watch loop is active.
func (a *Agent) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Targets returns the currently registered watch targets ordered by file
// type id.
func (a *Agent) Targets() []intake.WatchTarget {
	a.mu.RLock()
	targets := make([]intake.WatchTarget, 0, len(a.keys))
	for _, t := range a.keys {
		targets = append(targets, t)
	}
	a.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].FileTypeID < targets[j].FileTypeID })
	return targets
}

// RecordCreated implements intake.Listener; it tracks the time of the most
// recent intake for Health.
func (a *Agent) RecordCreated(_ context.Context, rec intake.Record) {
	a.mu.Lock()
	a.lastIntakeAt = rec.CreatedAt
	a.mu.Unlock()
}

// waitForSignal blocks for one signalled key and processes its events.
func (a *Agent) waitForSignal(ctx context.Context) {
	a.mu.RLock()
	svc := a.service
	a.mu.RUnlock()
	if svc == nil {
		a.Stop()
		return
	}

	key, err := svc.Take(ctx)
	if err != nil {
		switch {
		case errors.Is(err, watcher.ErrClosed):
			a.logger.Info("agent: watch service closed")
		case ctx.Err() != nil:
			a.logger.Info("agent: interrupted while waiting for events", slog.Any("error", err))
		default:
			a.logger.Error("agent: waiting for events failed", slog.Any("error", err))
		}
		a.Stop()
		return
	}

	a.mu.RLock()
	target, ok := a.keys[key]
	a.mu.RUnlock()
	if !ok {
		return
	}

	for _, ev := range key.PollEvents() {
		if !a.handleEvent(ctx, key, target, ev) {
			break
		}
	}

	if !key.Reset() {
		a.mu.Lock()
		delete(a.keys, key)
		remaining := len(a.keys)
		a.mu.Unlock()
		a.metrics.SetRegistrations(remaining)

		a.logger.Warn("agent: directory no longer watched", slog.String("path", key.Path()))
		if remaining == 0 {
			a.logger.Warn("agent: no directories left to watch")
			a.Stop()
		}
	}
}

// handleEvent processes one event. It returns false when the rest of the
// key's events must be abandoned for this cycle.
func (a *Agent) handleEvent(ctx context.Context, key watcher.Key, target intake.WatchTarget, ev watcher.Event) bool {
	if ev.Kind == watcher.EventOverflow {
		a.logger.Warn("agent: events lost, abandoning remaining events for directory",
			slog.String("path", key.Path()),
			slog.Int("count", ev.Count),
		)
		a.metrics.Overflow()
		return false
	}

	path := filepath.Join(key.Path(), ev.Name)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return true
	}

	a.logger.Debug("agent: event",
		slog.String("kind", ev.Kind.String()),
		slog.String("path", path),
	)
	a.processor.ProcessFile(ctx, target, path)
	return true
}

func (a *Agent) registrations() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys)
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status        string  `json:"status"`
	Running       bool    `json:"running"`
	UptimeS       float64 `json:"uptime_s"`
	Registrations int     `json:"registrations"`
	LastIntakeAt  string  `json:"last_intake_at,omitempty"`
}

// Health returns a snapshot of the current agent state.
func (a *Agent) Health() HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := HealthStatus{
		Status:        "stopped",
		Running:       a.running,
		Registrations: len(a.keys),
	}
	if a.running {
		h.Status = "running"
		h.UptimeS = time.Since(a.startTime).Seconds()
	}
	if !a.lastIntakeAt.IsZero() {
		h.LastIntakeAt = a.lastIntakeAt.UTC().Format(time.RFC3339)
	}
	return h
}

// HealthzHandler is an http.HandlerFunc that responds with the agent's
// health status as a JSON object and HTTP 200.
func (a *Agent) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h := a.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		a.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}
