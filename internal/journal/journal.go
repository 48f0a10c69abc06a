// Package journal keeps a tamper-evident, append-only log of every intake
// record the service creates. Each line is a JSON entry carrying a sequence
// number, the time it was written, the record, the hash of the previous
// entry and its own hash:
//
//	hash = hex(SHA-256( JSON({seq, at, record, prev}) ))
//
// The first entry links to GenesisHash. A Journal is an intake.Listener, so
// it can be attached directly to the processor.
package journal

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/intake/fileswatcher/internal/intake"
)

// GenesisHash is the prev hash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// maxLine bounds a single journal line.
const maxLine = 1 << 20

// Entry is one journal line.
type Entry struct {
	Seq    int64         `json:"seq"`
	At     time.Time     `json:"at"`
	Record intake.Record `json:"record"`
	Prev   string        `json:"prev"`
	Hash   string        `json:"hash"`
}

// digest returns the hash of e's content fields.
func (e Entry) digest() string {
	raw, err := json.Marshal(struct {
		Seq    int64         `json:"seq"`
		At     time.Time     `json:"at"`
		Record intake.Record `json:"record"`
		Prev   string        `json:"prev"`
	}{e.Seq, e.At, e.Record, e.Prev})
	if err != nil {
		// Every field is plain data.
		panic(fmt.Sprintf("journal: marshal entry: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Journal appends entries to one file. It is safe for concurrent use.
type Journal struct {
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	file *os.File
	seq  int64
	prev string
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the clock used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open opens (or creates) the journal at path. Existing entries are verified
// and the chain continues from the last one; a broken chain is an error.
func Open(path string, logger *slog.Logger, opts ...Option) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{logger: logger, now: time.Now, prev: GenesisHash}
	for _, o := range opts {
		o(j)
	}

	existing, err := Verify(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	case len(existing) > 0:
		last := existing[len(existing)-1]
		j.seq, j.prev = last.Seq, last.Hash
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}
	j.file = f
	return j, nil
}

// Append writes rec as the next entry and returns it.
func (j *Journal) Append(rec intake.Record) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := Entry{
		Seq:    j.seq + 1,
		At:     j.now().UTC(),
		Record: rec,
		Prev:   j.prev,
	}
	e.Hash = e.digest()

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: marshal: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("journal: write: %w", err)
	}

	j.seq, j.prev = e.Seq, e.Hash
	return e, nil
}

// RecordCreated implements intake.Listener. Write failures are logged.
func (j *Journal) RecordCreated(_ context.Context, rec intake.Record) {
	if _, err := j.Append(rec); err != nil {
		j.logger.Error("journal: append failed",
			slog.String("record_id", rec.ID),
			slog.Any("error", err),
		)
	}
}

// Close syncs and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return fmt.Errorf("journal: sync: %w", err)
	}
	return j.file.Close()
}

// Verify reads the journal at path and checks the whole chain. It returns
// the entries in order, or the first inconsistency. An empty file is valid.
func Verify(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: verify %q: %w", path, err)
	}
	defer f.Close()
	return readChain(f)
}

func readChain(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var entries []Entry
	prev := GenesisHash
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("journal: line %d: malformed entry: %w", line, err)
		}
		if e.Prev != prev {
			return nil, fmt.Errorf("journal: chain break at seq %d: expected prev %q, got %q", e.Seq, prev, e.Prev)
		}
		if want := e.digest(); want != e.Hash {
			return nil, fmt.Errorf("journal: hash mismatch at seq %d: stored %q, computed %q", e.Seq, e.Hash, want)
		}
		entries = append(entries, e)
		prev = e.Hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	return entries, nil
}
