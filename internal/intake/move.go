package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// MoveOutcome classifies the result of relocating a file into staging.
type MoveOutcome int

const (
	// Moved means the file now lives at the destination.
	Moved MoveOutcome = iota
	// AlreadyMoved means the source was gone but the destination exists,
	// typically because an earlier event for the same file won the race.
	AlreadyMoved
	// SourceVanished means neither source nor destination exist.
	SourceVanished
	// IOFailure covers every other failure.
	IOFailure
)

// String returns the metric label of o.
func (o MoveOutcome) String() string {
	switch o {
	case Moved:
		return "moved"
	case AlreadyMoved:
		return "already_moved"
	case SourceVanished:
		return "source_vanished"
	case IOFailure:
		return "io_failure"
	default:
		return fmt.Sprintf("MoveOutcome(%d)", int(o))
	}
}

// MoveResult is the outcome of Move. Err is set for every outcome except
// Moved.
type MoveResult struct {
	Outcome MoveOutcome
	Err     error
}

// Move renames src to dst, replacing dst if it exists. When the two paths
// live on different filesystems the content is copied to a temporary file
// next to dst, synced, renamed into place and src is removed.
func Move(src, dst string) MoveResult {
	err := os.Rename(src, dst)
	if err == nil {
		return MoveResult{Outcome: Moved}
	}
	if errors.Is(err, syscall.EXDEV) {
		err = copyAcross(src, dst)
		if err == nil {
			return MoveResult{Outcome: Moved}
		}
	}
	return classify(src, dst, err)
}

// classify inspects the filesystem after a failed move.
func classify(src, dst string, err error) MoveResult {
	if _, serr := os.Lstat(src); serr != nil && errors.Is(serr, os.ErrNotExist) {
		if _, derr := os.Lstat(dst); derr == nil {
			return MoveResult{Outcome: AlreadyMoved, Err: err}
		}
		return MoveResult{Outcome: SourceVanished, Err: err}
	}
	return MoveResult{Outcome: IOFailure, Err: err}
}

func copyAcross(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("intake: open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".intake-*")
	if err != nil {
		return fmt.Errorf("intake: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return fmt.Errorf("intake: copy: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("intake: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("intake: close temp: %w", err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("intake: rename temp: %w", err)
	}
	if rerr := os.Remove(src); rerr != nil {
		// A file must exist in exactly one of incoming and staging.
		os.Remove(dst)
		return fmt.Errorf("intake: remove source: %w", rerr)
	}
	return nil
}
