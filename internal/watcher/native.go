package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// NativeService is the fsnotify-backed Service. Kernel events for entries of
// a registered directory are translated into EventCreate and EventModify
// (writes and attribute changes). Removal or rename of a registered
// directory invalidates its key.
type NativeService struct {
	*hub
	fs     *fsnotify.Watcher
	logger *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewNative creates a NativeService and starts its event forwarder.
func NewNative(logger *slog.Logger) (*NativeService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	s := &NativeService{fs: fs, logger: logger}
	s.hub = newHub(func(dir string) {
		// The kernel drops the watch on its own when the directory goes away.
		if err := fs.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) && !errors.Is(err, fsnotify.ErrClosed) {
			logger.Debug("native watcher: remove watch failed",
				slog.String("path", dir),
				slog.Any("error", err),
			)
		}
	})

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Register implements Service.
func (s *NativeService) Register(dir string) (Key, error) {
	dir, err := cleanDir(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: register: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: register %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: register %s: not a directory", dir)
	}

	k, created, err := s.add(dir)
	if err != nil {
		return nil, err
	}
	if !created {
		return k, nil
	}
	if err := s.fs.Add(dir); err != nil {
		k.drop()
		if errors.Is(err, fsnotify.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("watcher: register %s: %w", dir, err)
	}
	s.logger.Debug("native watcher: directory registered", slog.String("path", dir))
	return k, nil
}

// Take implements Service.
func (s *NativeService) Take(ctx context.Context) (Key, error) {
	return s.take(ctx)
}

// Close implements Service. It is safe to call more than once.
func (s *NativeService) Close() error {
	s.closeOnce.Do(func() {
		s.hub.close()
		s.closeErr = s.fs.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *NativeService) run() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.fs.Events:
			if !ok {
				return
			}
			s.dispatch(ev)
		case err, ok := <-s.fs.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.logger.Warn("native watcher: kernel event queue overflowed; events may be lost")
				s.overflowAll()
				continue
			}
			s.logger.Error("native watcher: error", slog.Any("error", err))
		}
	}
}

func (s *NativeService) dispatch(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)

	// Events on a registered directory itself.
	if k := s.lookup(name); k != nil && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
		s.logger.Info("native watcher: watched directory removed", slog.String("path", name))
		k.invalidate()
		return
	}

	k := s.lookup(filepath.Dir(name))
	if k == nil {
		return
	}
	base := filepath.Base(name)
	switch {
	case ev.Has(fsnotify.Create):
		k.signal(EventCreate, base)
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Chmod):
		k.signal(EventModify, base)
	}
}
