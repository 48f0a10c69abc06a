package intake

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// DefaultQuiescenceWindow is the time a file's modification time must stay
// unchanged before the file is considered completely written.
const DefaultQuiescenceWindow = time.Second

// sample is one observation of a file's metadata.
type sample struct {
	modTime time.Time
	size    int64
}

// Prober decides whether a file has stopped being written to by comparing
// its modification time before and after a quiescence window.
type Prober struct {
	window time.Duration
	logger *slog.Logger
	stat   func(string) (os.FileInfo, error)
}

// NewProber returns a Prober that waits window between the two samples.
// A non-positive window selects DefaultQuiescenceWindow.
func NewProber(window time.Duration, logger *slog.Logger) *Prober {
	if window <= 0 {
		window = DefaultQuiescenceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{window: window, logger: logger, stat: os.Stat}
}

// Window returns the configured quiescence window.
func (p *Prober) Window() time.Duration { return p.window }

// IsStable samples path, sleeps for the quiescence window and samples again.
// It reports true when both modification times are equal. Size differences
// are logged but do not affect the verdict.
//
// A path that cannot be stat'ed yields a zero sample, so a file that is
// absent on both samples compares as stable and the subsequent move decides
// what happened to it. IsStable returns false if ctx is done before the
// window elapses.
func (p *Prober) IsStable(ctx context.Context, path string) bool {
	before := p.sample(path)

	timer := time.NewTimer(p.window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		p.logger.Info("prober: interrupted while waiting for quiescence",
			slog.String("path", path),
			slog.Any("error", ctx.Err()),
		)
		return false
	case <-timer.C:
	}

	after := p.sample(path)

	if before.size != after.size {
		p.logger.Debug("prober: size changed during quiescence window",
			slog.String("path", path),
			slog.Int64("size_before", before.size),
			slog.Int64("size_after", after.size),
		)
	}
	return before.modTime.Equal(after.modTime)
}

func (p *Prober) sample(path string) sample {
	info, err := p.stat(path)
	if err != nil {
		p.logger.Debug("prober: stat failed",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return sample{}
	}
	return sample{modTime: info.ModTime(), size: info.Size()}
}
