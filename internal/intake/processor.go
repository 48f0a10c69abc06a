package intake

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/intake/fileswatcher/internal/metrics"
)

// StagingTimeLayout is the timestamp prefix of every staged file name.
const StagingTimeLayout = "2006-01-02-150405"

// Processor moves stable files from an incoming directory into the staging
// directory of their WatchTarget and creates one Record per moved file.
type Processor struct {
	store     RecordStore
	prober    *Prober
	logger    *slog.Logger
	metrics   *metrics.Metrics
	listeners []Listener
	now       func() time.Time
	utc       bool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMetrics records intake outcomes on m.
func WithMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithListeners registers listeners notified after each record creation.
func WithListeners(ls ...Listener) ProcessorOption {
	return func(p *Processor) { p.listeners = append(p.listeners, ls...) }
}

// WithClock overrides the clock used for staging names and CreatedAt.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// WithUTC formats staging timestamps in UTC instead of local time.
func WithUTC(utc bool) ProcessorOption {
	return func(p *Processor) { p.utc = utc }
}

// NewProcessor returns a Processor that stores records in store and uses
// prober to detect files still being written.
func NewProcessor(store RecordStore, prober *Prober, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if prober == nil {
		prober = NewProber(DefaultQuiescenceWindow, logger)
	}
	p := &Processor{
		store:  store,
		prober: prober,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AddListener registers l after construction. It must not be called while
// files are being processed.
func (p *Processor) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

// StagingName returns the staging file name for base at t.
func (p *Processor) StagingName(base string, t time.Time) string {
	if p.utc {
		t = t.UTC()
	} else {
		t = t.Local()
	}
	return t.Format(StagingTimeLayout) + "_" + base
}

// ProcessFile handles one candidate file found in target's incoming
// directory. Unstable files are left in place. Every outcome is reported
// through logs and metrics; nothing is returned.
func (p *Processor) ProcessFile(ctx context.Context, target WatchTarget, src string) {
	now := p.now()
	dst := filepath.Join(target.Staging, p.StagingName(filepath.Base(src), now))

	log := p.logger.With(
		slog.Int64("file_type_id", target.FileTypeID),
		slog.String("source", src),
	)

	if !p.prober.IsStable(ctx, src) {
		log.Info("processor: file still being written, ignoring")
		p.metrics.IntakeOutcome(metrics.OutcomeUnstable)
		return
	}

	res := Move(src, dst)
	p.metrics.IntakeOutcome(res.Outcome.String())

	switch res.Outcome {
	case Moved:
		log.Info("processor: file moved", slog.String("destination", dst))
	case AlreadyMoved:
		log.Info("processor: file already moved",
			slog.String("destination", dst),
			slog.Any("error", res.Err),
		)
		return
	case SourceVanished:
		log.Error("processor: source file removed before move",
			slog.Any("error", res.Err),
		)
		return
	default:
		log.Error("processor: could not move file",
			slog.String("destination", dst),
			slog.Any("error", res.Err),
		)
		return
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	rec := Record{
		ID:         uuid.NewString(),
		FileTypeID: target.FileTypeID,
		Name:       filepath.Base(dst),
		Path:       abs,
		Status:     StatusNotProcessed,
		Version:    0,
		CreatedAt:  now,
	}
	if err := p.store.Create(ctx, rec); err != nil {
		log.Error("processor: could not create record",
			slog.String("record_id", rec.ID),
			slog.String("destination", dst),
			slog.Any("error", err),
		)
		p.metrics.IntakeOutcome(metrics.OutcomeRecordError)
		return
	}
	log.Info("processor: record created", slog.String("record_id", rec.ID))

	for _, l := range p.listeners {
		l.RecordCreated(ctx, rec)
	}
}
