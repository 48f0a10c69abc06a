package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/intake/fileswatcher/internal/agent"
	"github.com/intake/fileswatcher/internal/intake"
	"github.com/intake/fileswatcher/internal/records"
)

// Server holds the dependencies of the REST handlers.
type Server struct {
	agent   AgentStatus
	records RecordLister
	metrics http.Handler
	feed    http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithFeed serves h on GET /api/v1/feed.
func WithFeed(h http.Handler) Option {
	return func(s *Server) { s.feed = h }
}

// NewServer creates a Server.
func NewServer(ag AgentStatus, lister RecordLister, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{agent: ag, records: lister, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	agent.HealthStatus
	Records int64 `json:"records"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handleHealthz responds to GET /healthz. It always answers 200; the body
// tells whether the watch loop is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Health())
}

// handleGetStatus responds to GET /api/v1/status.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	n, err := s.records.Count(r.Context())
	if err != nil {
		s.logger.Error("rest: count records", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to count records")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{HealthStatus: s.agent.Health(), Records: n})
}

// handleGetTargets responds to GET /api/v1/targets.
func (s *Server) handleGetTargets(w http.ResponseWriter, _ *http.Request) {
	targets := s.agent.Targets()
	if targets == nil {
		targets = []intake.WatchTarget{}
	}
	writeJSON(w, http.StatusOK, targets)
}

// handleGetRecords responds to GET /api/v1/records.
//
// Supported query parameters, all optional:
//
//	file_type_id  positive integer
//	status        record status, e.g. NOT_PROCESSED
//	from, to      RFC3339 bounds of created_at, [from, to)
//	limit         default 100, capped at 1000
//	offset        default 0
func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	rq, msg := parseRecordQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	recs, err := s.records.List(r.Context(), rq)
	if err != nil {
		s.logger.Error("rest: list records", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to query records")
		return
	}
	if recs == nil {
		recs = []intake.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// parseRecordQuery returns the query or a client-facing error message.
func parseRecordQuery(r *http.Request) (records.Query, string) {
	q := r.URL.Query()
	var rq records.Query

	if v := q.Get("file_type_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return rq, "'file_type_id' must be a positive integer"
		}
		rq.FileTypeID = id
	}

	rq.Status = intake.Status(q.Get("status"))

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rq.From}, {"to", &rq.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return rq, "'" + p.name + "' must be a valid RFC3339 timestamp"
		}
		*p.dst = t
	}
	if !rq.From.IsZero() && !rq.To.IsZero() && !rq.To.After(rq.From) {
		return rq, "'to' must be after 'from'"
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return rq, "'limit' must be a positive integer"
		}
		rq.Limit = min(limit, records.MaxLimit)
	}

	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return rq, "'offset' must be a non-negative integer"
		}
		rq.Offset = offset
	}

	return rq, ""
}
