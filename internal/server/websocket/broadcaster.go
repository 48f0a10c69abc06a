// Package websocket streams newly created intake records to connected
// WebSocket clients.
//
// The Broadcaster is an intake.Listener: the processor hands it every record
// it creates and the Broadcaster fans the record out to each client's
// buffered channel. Sends never block, so a slow client loses messages
// instead of stalling intake.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/intake/fileswatcher/internal/intake"
)

// DefaultBufferSize is the per-client send buffer used when NewBroadcaster
// is given a non-positive size.
const DefaultBufferSize = 64

// RecordMessage is the JSON envelope pushed to clients. Type is always
// "record".
type RecordMessage struct {
	Type string        `json:"type"`
	Data intake.Record `json:"data"`
}

// Client is one registered subscriber.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64 // messages lost to a full buffer
}

// ID returns the client's identifier.
func (c *Client) ID() string { return c.id }

// Send returns the channel of encoded messages. It is closed when the client
// is unregistered or the broadcaster is closed.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans records out to registered clients. It is safe for
// concurrent use.
type Broadcaster struct {
	clients   sync.Map // map[string]*Client
	clientCnt atomic.Int64

	bufSize int
	logger  *slog.Logger

	// mu orders channel sends against close so a send never hits a closed
	// channel.
	mu     sync.RWMutex
	closed bool
}

// NewBroadcaster creates a Broadcaster whose clients buffer bufSize messages.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{bufSize: bufSize, logger: logger}
}

// Register adds a client with the given id. After Close it returns a client
// whose Send channel is already closed.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, b.bufSize)}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		close(c.send)
		return c
	}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes the client and closes its Send channel. Unknown ids are
// ignored.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.clients.LoadAndDelete(id); ok {
		close(v.(*Client).send)
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of registered clients.
func (b *Broadcaster) ClientCount() int {
	return int(b.clientCnt.Load())
}

// Publish delivers rec to every client.
func (b *Broadcaster) Publish(rec intake.Record) {
	raw, err := json.Marshal(RecordMessage{Type: "record", Data: rec})
	if err != nil {
		b.logger.Error("websocket: marshal failed", slog.Any("error", err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		select {
		case c.send <- raw:
		default:
			c.Dropped.Add(1)
			b.logger.Warn("websocket: client buffer full, dropping record",
				slog.String("client_id", c.id),
				slog.String("record_id", rec.ID),
			)
		}
		return true
	})
}

// RecordCreated implements intake.Listener.
func (b *Broadcaster) RecordCreated(_ context.Context, rec intake.Record) {
	b.Publish(rec)
}

// Close unregisters every client. Later Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.clients.Range(func(k, v any) bool {
		b.clients.Delete(k)
		close(v.(*Client).send)
		b.clientCnt.Add(-1)
		return true
	})
}
