// Package catalog provides the intake.Catalog implementations: a static
// catalog built from the configuration file and a PostgreSQL catalog reading
// the file_types and directories tables.
package catalog

import (
	"context"
	"sort"

	"github.com/intake/fileswatcher/internal/config"
	"github.com/intake/fileswatcher/internal/intake"
)

// Static is an in-memory catalog. It is immutable after construction and
// safe for concurrent use.
type Static struct {
	types   []intake.FileType
	targets map[int64]intake.WatchTarget
}

// NewStatic builds a catalog from the configured file types.
func NewStatic(fileTypes []config.FileTypeConfig) *Static {
	s := &Static{targets: make(map[int64]intake.WatchTarget, len(fileTypes))}
	for _, ft := range fileTypes {
		s.types = append(s.types, intake.FileType{ID: ft.ID, Code: ft.Code, Active: ft.Active})
		if d := ft.Directory; d != nil {
			s.targets[ft.ID] = intake.WatchTarget{
				FileTypeID: ft.ID,
				Incoming:   d.Incoming,
				Staging:    d.Staging,
				Dump:       d.Dump,
				Processed:  d.Processed,
				Errors:     d.Errors,
				Outgoing:   d.Outgoing,
			}
		}
	}
	sort.Slice(s.types, func(i, j int) bool { return s.types[i].ID < s.types[j].ID })
	return s
}

// ListActiveFileTypes returns the active file types ordered by id.
func (s *Static) ListActiveFileTypes(context.Context) ([]intake.FileType, error) {
	var active []intake.FileType
	for _, ft := range s.types {
		if ft.Active {
			active = append(active, ft)
		}
	}
	return active, nil
}

// ResolveDirectory returns the target of fileTypeID, or nil if none is
// configured.
func (s *Static) ResolveDirectory(_ context.Context, fileTypeID int64) (*intake.WatchTarget, error) {
	t, ok := s.targets[fileTypeID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
