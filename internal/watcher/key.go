package watcher

import (
	"context"
	"path/filepath"
	"sync"
)

// MaxPendingEvents is the number of events a key holds before further events
// are collapsed into a single EventOverflow.
const MaxPendingEvents = 512

type keyState int

const (
	stateReady keyState = iota
	stateSignalled
)

// hub is the key registry and signalled-key queue shared by the backends.
// All key state is guarded by mu.
type hub struct {
	mu      sync.Mutex
	keys    map[string]*watchKey
	pending []*watchKey
	closed  bool

	// wake has capacity 1; a send never blocks and a pending value means
	// "re-check the queue".
	wake chan struct{}
	done chan struct{}

	// onCancel is called without mu held when a key is cancelled.
	onCancel func(dir string)
}

func newHub(onCancel func(dir string)) *hub {
	if onCancel == nil {
		onCancel = func(string) {}
	}
	return &hub{
		keys:     make(map[string]*watchKey),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
}

// add returns the key for dir, creating it if needed. created reports
// whether a new key was made.
func (h *hub) add(dir string) (k *watchKey, created bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false, ErrClosed
	}
	if k, ok := h.keys[dir]; ok {
		return k, false, nil
	}
	k = &watchKey{hub: h, dir: dir, valid: true}
	h.keys[dir] = k
	return k, true, nil
}

// lookup returns the valid key registered for dir, or nil.
func (h *hub) lookup(dir string) *watchKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keys[dir]
}

// snapshot returns every registered key.
func (h *hub) snapshot() []*watchKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]*watchKey, 0, len(h.keys))
	for _, k := range h.keys {
		keys = append(keys, k)
	}
	return keys
}

// enqueue must be called with mu held.
func (h *hub) enqueue(k *watchKey) {
	h.pending = append(h.pending, k)
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *hub) take(ctx context.Context) (Key, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		if len(h.pending) > 0 {
			k := h.pending[0]
			h.pending[0] = nil
			h.pending = h.pending[1:]
			h.mu.Unlock()
			return k, nil
		}
		h.mu.Unlock()

		select {
		case <-h.wake:
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// overflowAll queues an overflow event on every valid key.
func (h *hub) overflowAll() {
	for _, k := range h.snapshot() {
		k.signal(EventOverflow, "")
	}
}

// close invalidates every key and wakes blocked Take calls. It reports
// false if the hub was already closed.
func (h *hub) close() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	for dir, k := range h.keys {
		k.valid = false
		delete(h.keys, dir)
	}
	h.pending = nil
	close(h.done)
	return true
}

// watchKey implements Key.
type watchKey struct {
	hub    *hub
	dir    string
	valid  bool
	state  keyState
	events []Event
}

func (k *watchKey) Path() string { return k.dir }

// signal queues one event and signals the key if it is ready.
func (k *watchKey) signal(kind EventKind, name string) {
	h := k.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if !k.valid {
		return
	}
	if len(k.events) >= MaxPendingEvents && kind != EventOverflow {
		kind, name = EventOverflow, ""
	}
	if n := len(k.events); n > 0 {
		last := &k.events[n-1]
		if last.Kind == kind && last.Name == name {
			last.Count++
			return
		}
	}
	k.events = append(k.events, Event{Kind: kind, Name: name, Count: 1})
	k.signalLocked()
}

func (k *watchKey) signalLocked() {
	if k.state == stateReady {
		k.state = stateSignalled
		k.hub.enqueue(k)
	}
}

func (k *watchKey) PollEvents() []Event {
	k.hub.mu.Lock()
	defer k.hub.mu.Unlock()
	events := k.events
	k.events = nil
	return events
}

func (k *watchKey) Reset() bool {
	h := k.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if k.valid && k.state == stateSignalled {
		if len(k.events) == 0 {
			k.state = stateReady
		} else {
			h.enqueue(k)
		}
	}
	return k.valid
}

func (k *watchKey) Cancel() {
	if k.drop() {
		k.hub.onCancel(k.dir)
	}
}

// invalidate marks the key invalid after its directory disappeared and
// signals it so the consumer observes Reset returning false.
func (k *watchKey) invalidate() {
	if !k.drop() {
		return
	}
	h := k.hub
	h.mu.Lock()
	k.signalLocked()
	h.mu.Unlock()
	h.onCancel(k.dir)
}

// drop removes k from the registry and reports whether it was valid.
func (k *watchKey) drop() bool {
	h := k.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if !k.valid {
		return false
	}
	k.valid = false
	if h.keys[k.dir] == k {
		delete(h.keys, k.dir)
	}
	return true
}

// cleanDir normalises a directory path for use as a registry key.
func cleanDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
