// Package watcher provides the directory watch capability used by the intake
// agent. A Service hands out one Key per registered directory; the backend
// queues entry events on the key and signals it, and the consumer drains
// signalled keys with Take, reads their events with PollEvents and re-arms
// them with Reset.
//
// Two backends are available:
//
//	native  kernel notifications through fsnotify
//	poll    periodic snapshots of every registered directory
//
// Both backends report only entry creation and modification. When events are
// lost, either because the kernel queue overflowed or because a key holds
// more than MaxPendingEvents, an EventOverflow is queued instead.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrClosed is returned by Register and Take once the Service is closed.
var ErrClosed = errors.New("watcher: service closed")

// EventKind classifies a watch event.
type EventKind int

const (
	// EventOverflow indicates that events may have been lost.
	EventOverflow EventKind = iota
	// EventCreate indicates an entry was created in the watched directory.
	EventCreate
	// EventModify indicates an entry of the watched directory was modified.
	EventModify
)

// String returns a lower-case name for k.
func (k EventKind) String() string {
	switch k {
	case EventOverflow:
		return "overflow"
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one entry event queued on a Key.
type Event struct {
	Kind EventKind
	// Name is the entry name relative to the key's directory. It is empty
	// for EventOverflow.
	Name string
	// Count is the number of identical consecutive events collapsed into
	// this one. It is always at least 1.
	Count int
}

// Key is the registration of one directory with a Service.
type Key interface {
	// Path returns the registered directory.
	Path() string
	// PollEvents removes and returns every pending event.
	PollEvents() []Event
	// Reset re-arms a signalled key. It reports false when the key is no
	// longer valid because it was cancelled, its directory disappeared or
	// the service was closed.
	Reset() bool
	// Cancel invalidates the key and stops watching its directory.
	Cancel()
}

// Service watches registered directories.
type Service interface {
	// Register starts watching dir and returns its key. Registering a
	// directory that is already watched returns the existing key.
	Register(dir string) (Key, error)
	// Take blocks until a key is signalled, the service is closed
	// (ErrClosed) or ctx is done (ctx.Err()).
	Take(ctx context.Context) (Key, error)
	// Close stops every watch and wakes blocked Take calls.
	Close() error
}

// Backend names accepted by New.
const (
	BackendNative = "native"
	BackendPoll   = "poll"
)

// DefaultPollInterval is the snapshot frequency of the poll backend.
const DefaultPollInterval = 500 * time.Millisecond

// Config selects and tunes a backend.
type Config struct {
	// Backend is BackendNative or BackendPoll. Empty selects BackendNative.
	Backend string
	// PollInterval is used by the poll backend. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration
}

// New constructs the Service selected by cfg.Backend.
func New(cfg Config, logger *slog.Logger) (Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "", BackendNative:
		return NewNative(logger)
	case BackendPoll:
		return NewPoll(cfg.PollInterval, logger), nil
	default:
		return nil, fmt.Errorf("watcher: unknown backend %q", cfg.Backend)
	}
}
