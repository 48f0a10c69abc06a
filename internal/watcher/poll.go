package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// entryState holds the metadata of one directory entry in a snapshot.
type entryState struct {
	mode    os.FileMode
	size    int64
	modTime time.Time
}

// PollService is a Service that detects changes by comparing periodic
// snapshots of every registered directory. It holds no kernel resources, so
// it also works on network filesystems that deliver no notifications.
type PollService struct {
	*hub
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	snapshots map[string]map[string]entryState

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPoll creates a PollService that scans every interval. Zero selects
// DefaultPollInterval.
func NewPoll(interval time.Duration, logger *slog.Logger) *PollService {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &PollService{
		logger:    logger,
		interval:  interval,
		snapshots: make(map[string]map[string]entryState),
		stop:      make(chan struct{}),
	}
	s.hub = newHub(s.forget)

	s.wg.Add(1)
	go s.run()
	return s
}

// Register implements Service. The directory's current entries form the
// baseline; only later changes are reported.
func (s *PollService) Register(dir string) (Key, error) {
	dir, err := cleanDir(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: register: %w", err)
	}
	snap, err := scanDir(dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: register %s: %w", dir, err)
	}

	k, created, err := s.add(dir)
	if err != nil {
		return nil, err
	}
	if created {
		s.mu.Lock()
		s.snapshots[dir] = snap
		s.mu.Unlock()
		s.logger.Debug("poll watcher: directory registered", slog.String("path", dir))
	}
	return k, nil
}

// Take implements Service.
func (s *PollService) Take(ctx context.Context) (Key, error) {
	return s.take(ctx)
}

// Close implements Service. It is safe to call more than once.
func (s *PollService) Close() error {
	s.closeOnce.Do(func() {
		s.hub.close()
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}

func (s *PollService) forget(dir string) {
	s.mu.Lock()
	delete(s.snapshots, dir)
	s.mu.Unlock()
}

func (s *PollService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll rescans every registered directory and signals the differences.
func (s *PollService) poll() {
	for _, k := range s.snapshot() {
		current, err := scanDir(k.dir)
		if err != nil {
			s.logger.Info("poll watcher: watched directory no longer accessible",
				slog.String("path", k.dir),
				slog.Any("error", err),
			)
			k.invalidate()
			continue
		}

		s.mu.Lock()
		old, ok := s.snapshots[k.dir]
		if ok {
			s.snapshots[k.dir] = current
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		diff(k, old, current)
	}
}

// diff signals k for every entry created or modified between old and
// current. Deletions are not reported.
func diff(k *watchKey, old, current map[string]entryState) {
	for name, cur := range current {
		prev, existed := old[name]
		switch {
		case !existed:
			k.signal(EventCreate, name)
		case !cur.modTime.Equal(prev.modTime) || cur.size != prev.size || cur.mode != prev.mode:
			k.signal(EventModify, name)
		}
	}
}

// scanDir returns the entry snapshot of dir. Entries that vanish while the
// directory is read are skipped.
func scanDir(dir string) (map[string]entryState, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]entryState, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		result[filepath.Base(e.Name())] = entryState{
			mode:    fi.Mode(),
			size:    fi.Size(),
			modTime: fi.ModTime(),
		}
	}
	return result, nil
}
