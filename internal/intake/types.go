// Package intake holds the file-intake domain: the file types and watch
// targets read from the catalog, the records created for every accepted
// file, the stability prober and the processor that moves stable files into
// the staging area.
package intake

import (
	"context"
	"time"
)

// FileType is one file-type definition from the catalog.
type FileType struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Active bool   `json:"active"`
}

// WatchTarget is one monitored directory tree and its role-specific
// subdirectories. An empty subdirectory means "not configured".
type WatchTarget struct {
	FileTypeID int64  `json:"file_type_id"`
	Incoming   string `json:"incoming"`
	Staging    string `json:"staging"`
	Dump       string `json:"dump,omitempty"`
	Processed  string `json:"processed,omitempty"`
	Errors     string `json:"errors,omitempty"`
	Outgoing   string `json:"outgoing,omitempty"`
}

// Subdirectories returns every configured subdirectory of t, Incoming first.
// Empty entries are omitted.
func (t WatchTarget) Subdirectories() []string {
	all := []string{t.Incoming, t.Staging, t.Dump, t.Processed, t.Errors, t.Outgoing}
	dirs := make([]string, 0, len(all))
	for _, d := range all {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Status is the processing state of an intake record.
type Status string

const (
	// StatusNotProcessed is assigned to every record at creation.
	StatusNotProcessed Status = "NOT_PROCESSED"
)

// Record is the unit of work created for a file accepted into the pipeline.
type Record struct {
	ID         string    `json:"id"`
	FileTypeID int64     `json:"file_type_id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Status     Status    `json:"status"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// Catalog looks up the file-type configuration.
type Catalog interface {
	// ListActiveFileTypes returns every active file type.
	ListActiveFileTypes(ctx context.Context) ([]FileType, error)
	// ResolveDirectory returns the watch target configured for fileTypeID,
	// or nil when the type has no directory.
	ResolveDirectory(ctx context.Context, fileTypeID int64) (*WatchTarget, error)
}

// RecordStore persists intake records.
type RecordStore interface {
	Create(ctx context.Context, rec Record) error
}

// Listener is notified after a record has been handed to the RecordStore.
// Implementations must not block.
type Listener interface {
	RecordCreated(ctx context.Context, rec Record)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, rec Record)

// RecordCreated calls f(ctx, rec).
func (f ListenerFunc) RecordCreated(ctx context.Context, rec Record) { f(ctx, rec) }
