package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/intake/fileswatcher/internal/intake"
	"github.com/intake/fileswatcher/internal/watcher"
)

// Setup replaces the watch service with a fresh one, loads the watch
// targets of every active file type, creates their directories, processes
// files already waiting in each incoming directory and registers it.
//
// Setup reports false when no watch service could be built or when the
// service was closed during registration. A target that cannot be resolved
// or registered is logged and skipped.
func (a *Agent) Setup(ctx context.Context) bool {
	svc, err := a.reset()
	if err != nil {
		a.logger.Error("agent: could not create watch service", slog.Any("error", err))
		return false
	}

	for _, target := range a.resolveTargets(ctx) {
		err := a.register(ctx, svc, target)
		if err == nil {
			continue
		}
		if errors.Is(err, watcher.ErrClosed) {
			a.logger.Error("agent: watch service closed during setup", slog.Any("error", err))
			return false
		}
		a.logger.Error("agent: could not register directory",
			slog.Int64("file_type_id", target.FileTypeID),
			slog.String("path", target.Incoming),
			slog.Any("error", err),
		)
	}

	a.mu.Lock()
	if a.service != svc {
		// Stopped while setting up.
		a.mu.Unlock()
		return false
	}
	a.running = true
	a.startTime = time.Now()
	n := len(a.keys)
	a.mu.Unlock()

	a.metrics.SetRegistrations(n)
	a.metrics.SetRunning(true)
	return true
}

// reset closes the previous watch service, drops its registrations and
// installs a new service.
func (a *Agent) reset() (watcher.Service, error) {
	a.mu.Lock()
	old := a.service
	a.service = nil
	a.keys = make(map[watcher.Key]intake.WatchTarget)
	a.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			a.logger.Warn("agent: error closing previous watch service", slog.Any("error", err))
		}
	}

	svc, err := a.newService()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.service = svc
	a.mu.Unlock()
	return svc, nil
}

// resolveTargets returns the watch target of every active file type. Catalog
// failures are logged and yield fewer targets.
func (a *Agent) resolveTargets(ctx context.Context) []intake.WatchTarget {
	types, err := a.catalog.ListActiveFileTypes(ctx)
	if err != nil {
		a.logger.Error("agent: could not list file types", slog.Any("error", err))
		return nil
	}

	var targets []intake.WatchTarget
	for _, ft := range types {
		if !ft.Active {
			continue
		}
		t, err := a.catalog.ResolveDirectory(ctx, ft.ID)
		if err != nil {
			a.logger.Error("agent: could not resolve directory",
				slog.Int64("file_type_id", ft.ID),
				slog.String("code", ft.Code),
				slog.Any("error", err),
			)
			continue
		}
		if t == nil {
			a.logger.Warn("agent: file type has no directory",
				slog.Int64("file_type_id", ft.ID),
				slog.String("code", ft.Code),
			)
			continue
		}
		if t.Incoming == "" || t.Staging == "" {
			a.logger.Error("agent: directory has no incoming or staging path",
				slog.Int64("file_type_id", ft.ID),
				slog.String("code", ft.Code),
				slog.String("incoming", t.Incoming),
				slog.String("staging", t.Staging),
			)
			continue
		}
		targets = append(targets, *t)
	}
	return targets
}

// register prepares target and binds its incoming directory to a key.
func (a *Agent) register(ctx context.Context, svc watcher.Service, target intake.WatchTarget) error {
	for _, dir := range target.Subdirectories() {
		a.tryCreateDirectory(dir)
	}

	a.scanDirectory(ctx, target)

	key, err := svc.Register(target.Incoming)
	if err != nil {
		return fmt.Errorf("agent: register %s: %w", target.Incoming, err)
	}

	a.mu.Lock()
	a.keys[key] = target
	a.mu.Unlock()

	a.logger.Info("agent: directory registered",
		slog.Int64("file_type_id", target.FileTypeID),
		slog.String("path", target.Incoming),
	)
	return nil
}

// tryCreateDirectory creates dir and its parents if missing. Failures are
// logged only.
func (a *Agent) tryCreateDirectory(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); err == nil {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.logger.Error("agent: could not create directory",
			slog.String("path", dir),
			slog.Any("error", err),
		)
		return
	}
	a.logger.Info("agent: directory created", slog.String("path", dir))
}

// scanDirectory processes every regular file already present in the
// incoming directory of target, one at a time.
func (a *Agent) scanDirectory(ctx context.Context, target intake.WatchTarget) {
	entries, err := os.ReadDir(target.Incoming)
	if err != nil {
		a.logger.Error("agent: could not scan directory",
			slog.String("path", target.Incoming),
			slog.Any("error", err),
		)
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			a.logger.Info("agent: scan interrupted", slog.String("path", target.Incoming))
			return
		}
		path := filepath.Join(target.Incoming, e.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		a.metrics.FileScanned()
		a.processor.ProcessFile(ctx, target, path)
	}
}
