package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *fakeStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// newTarget creates incoming and staging directories under a temp dir.
func newTarget(t *testing.T) WatchTarget {
	t.Helper()
	root := t.TempDir()
	tgt := WatchTarget{
		FileTypeID: 7,
		Incoming:   filepath.Join(root, "in"),
		Staging:    filepath.Join(root, "tmp"),
	}
	for _, d := range []string{tgt.Incoming, tgt.Staging} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return tgt
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
}

func newTestProcessor(store RecordStore, opts ...ProcessorOption) *Processor {
	opts = append([]ProcessorOption{WithClock(fixedClock), WithUTC(true)}, opts...)
	return NewProcessor(store, NewProber(5*time.Millisecond, discardLogger()), discardLogger(), opts...)
}

// ---------------------------------------------------------------------------
// Prober
// ---------------------------------------------------------------------------

func TestProber_QuiescentFileIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "done")

	p := NewProber(5*time.Millisecond, discardLogger())
	if !p.IsStable(context.Background(), path) {
		t.Error("IsStable = false for an untouched file")
	}
}

type fakeInfo struct {
	os.FileInfo
	mod  time.Time
	size int64
}

func (f fakeInfo) ModTime() time.Time { return f.mod }
func (f fakeInfo) Size() int64        { return f.size }

func TestProber_ChangedModTimeIsUnstable(t *testing.T) {
	p := NewProber(time.Millisecond, discardLogger())
	base := time.Unix(1_700_000_000, 0)
	calls := 0
	p.stat = func(string) (os.FileInfo, error) {
		calls++
		return fakeInfo{mod: base.Add(time.Duration(calls) * time.Second), size: 10}, nil
	}

	if p.IsStable(context.Background(), "whatever") {
		t.Error("IsStable = true although the modification time changed")
	}
	if calls != 2 {
		t.Errorf("stat called %d times; want 2", calls)
	}
}

func TestProber_SizeChangeAloneIsStable(t *testing.T) {
	p := NewProber(time.Millisecond, discardLogger())
	mod := time.Unix(1_700_000_000, 0)
	size := int64(0)
	p.stat = func(string) (os.FileInfo, error) {
		size += 100
		return fakeInfo{mod: mod, size: size}, nil
	}

	if !p.IsStable(context.Background(), "whatever") {
		t.Error("IsStable = false although only the size changed")
	}
}

func TestProber_MissingFileComparesEqual(t *testing.T) {
	p := NewProber(time.Millisecond, discardLogger())
	if !p.IsStable(context.Background(), filepath.Join(t.TempDir(), "missing")) {
		t.Error("IsStable = false for a file absent on both samples")
	}
}

func TestProber_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProber(time.Hour, discardLogger())
	if p.IsStable(ctx, path) {
		t.Error("IsStable = true after context cancellation")
	}
}

func TestNewProber_DefaultWindow(t *testing.T) {
	if got := NewProber(0, nil).Window(); got != DefaultQuiescenceWindow {
		t.Errorf("Window() = %v; want %v", got, DefaultQuiescenceWindow)
	}
}

// ---------------------------------------------------------------------------
// Move
// ---------------------------------------------------------------------------

func TestMove_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, src, dst string)
		want    MoveOutcome
	}{
		{
			name:    "moved",
			prepare: func(t *testing.T, src, _ string) { writeFile(t, src, "payload") },
			want:    Moved,
		},
		{
			name:    "already moved",
			prepare: func(t *testing.T, _, dst string) { writeFile(t, dst, "payload") },
			want:    AlreadyMoved,
		},
		{
			name:    "source vanished",
			prepare: func(*testing.T, string, string) {},
			want:    SourceVanished,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src.txt")
			dst := filepath.Join(dir, "dst.txt")
			tc.prepare(t, src, dst)

			res := Move(src, dst)
			if res.Outcome != tc.want {
				t.Fatalf("Outcome = %v; want %v (err %v)", res.Outcome, tc.want, res.Err)
			}
			if tc.want == Moved {
				if res.Err != nil {
					t.Errorf("Err = %v; want nil", res.Err)
				}
				if exists(src) || !exists(dst) {
					t.Error("expected source gone and destination present")
				}
			} else if res.Err == nil {
				t.Error("Err = nil for a failed move")
			}
		})
	}
}

func TestMove_IOFailureWhenSourceRemains(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	writeFile(t, src, "payload")

	res := Move(src, filepath.Join(dir, "no-such-dir", "dst.txt"))
	if res.Outcome != IOFailure {
		t.Fatalf("Outcome = %v; want io_failure", res.Outcome)
	}
	if !exists(src) {
		t.Error("source must be left in place on failure")
	}
}

func TestMove_ReplacesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	writeFile(t, src, "new")
	writeFile(t, dst, "old")

	if res := Move(src, dst); res.Outcome != Moved {
		t.Fatalf("Outcome = %v; want moved", res.Outcome)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "new" {
		t.Errorf("destination content = %q; want %q", got, "new")
	}
}

func TestCopyAcross(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "staging", "dst.txt")
	if err := os.Mkdir(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, src, "cross-device")

	if err := copyAcross(src, dst); err != nil {
		t.Fatalf("copyAcross: %v", err)
	}
	if exists(src) {
		t.Error("source still present after copyAcross")
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "cross-device" {
		t.Errorf("destination content = %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("staging holds %d entries; want 1 (temp file leaked?)", len(entries))
	}
}

func TestMoveOutcome_String(t *testing.T) {
	for o, want := range map[MoveOutcome]string{
		Moved:          "moved",
		AlreadyMoved:   "already_moved",
		SourceVanished: "source_vanished",
		IOFailure:      "io_failure",
		MoveOutcome(9): "MoveOutcome(9)",
	} {
		if got := o.String(); got != want {
			t.Errorf("String() = %q; want %q", got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Processor
// ---------------------------------------------------------------------------

func TestProcessFile_CreatesOneRecord(t *testing.T) {
	tgt := newTarget(t)
	src := filepath.Join(tgt.Incoming, "orders.csv")
	writeFile(t, src, "a,b,c")

	store := &fakeStore{}
	newTestProcessor(store).ProcessFile(context.Background(), tgt, src)

	recs := store.all()
	if len(recs) != 1 {
		t.Fatalf("got %d records; want 1", len(recs))
	}
	rec := recs[0]
	wantName := "2024-03-09-140507_orders.csv"
	if rec.Name != wantName {
		t.Errorf("Name = %q; want %q", rec.Name, wantName)
	}
	if rec.Status != StatusNotProcessed || rec.Version != 0 {
		t.Errorf("Status/Version = %s/%d; want NOT_PROCESSED/0", rec.Status, rec.Version)
	}
	if rec.FileTypeID != tgt.FileTypeID {
		t.Errorf("FileTypeID = %d; want %d", rec.FileTypeID, tgt.FileTypeID)
	}
	if !filepath.IsAbs(rec.Path) || rec.Path != filepath.Join(tgt.Staging, wantName) {
		t.Errorf("Path = %q", rec.Path)
	}
	if rec.ID == "" {
		t.Error("ID is empty")
	}
	if exists(src) {
		t.Error("source still present")
	}
	if !exists(rec.Path) {
		t.Error("destination missing")
	}
}

func TestProcessFile_SecondRunCreatesNoRecord(t *testing.T) {
	tgt := newTarget(t)
	src := filepath.Join(tgt.Incoming, "x.dat")
	writeFile(t, src, "x")

	store := &fakeStore{}
	p := newTestProcessor(store)
	p.ProcessFile(context.Background(), tgt, src)
	p.ProcessFile(context.Background(), tgt, src)

	if n := len(store.all()); n != 1 {
		t.Errorf("got %d records; want 1", n)
	}
}

func TestProcessFile_UnstableFileLeftInPlace(t *testing.T) {
	tgt := newTarget(t)
	src := filepath.Join(tgt.Incoming, "growing.bin")
	writeFile(t, src, "partial")

	prober := NewProber(time.Millisecond, discardLogger())
	calls := 0
	prober.stat = func(string) (os.FileInfo, error) {
		calls++
		return fakeInfo{mod: time.Unix(int64(calls), 0)}, nil
	}

	store := &fakeStore{}
	NewProcessor(store, prober, discardLogger()).ProcessFile(context.Background(), tgt, src)

	if n := len(store.all()); n != 0 {
		t.Errorf("got %d records; want 0", n)
	}
	if !exists(src) {
		t.Error("unstable file was moved")
	}
}

func TestProcessFile_StoreErrorSkipsListeners(t *testing.T) {
	tgt := newTarget(t)
	src := filepath.Join(tgt.Incoming, "x.dat")
	writeFile(t, src, "x")

	notified := 0
	store := &fakeStore{err: errors.New("db down")}
	p := newTestProcessor(store, WithListeners(ListenerFunc(func(context.Context, Record) { notified++ })))
	p.ProcessFile(context.Background(), tgt, src)

	if notified != 0 {
		t.Errorf("listener notified %d times; want 0", notified)
	}
}

func TestProcessFile_NotifiesListeners(t *testing.T) {
	tgt := newTarget(t)
	src := filepath.Join(tgt.Incoming, "x.dat")
	writeFile(t, src, "x")

	var got []Record
	store := &fakeStore{}
	p := newTestProcessor(store)
	p.AddListener(ListenerFunc(func(_ context.Context, rec Record) { got = append(got, rec) }))
	p.ProcessFile(context.Background(), tgt, src)

	if len(got) != 1 || got[0].ID != store.all()[0].ID {
		t.Errorf("listener received %+v", got)
	}
}

func TestStagingName_LocalAndUTC(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)

	utc := NewProcessor(nil, nil, discardLogger(), WithUTC(true))
	if got, want := utc.StagingName("f.txt", ts), "2024-12-31-235958_f.txt"; got != want {
		t.Errorf("utc StagingName = %q; want %q", got, want)
	}

	local := NewProcessor(nil, nil, discardLogger())
	want := ts.Local().Format(StagingTimeLayout) + "_f.txt"
	if got := local.StagingName("f.txt", ts); got != want {
		t.Errorf("local StagingName = %q; want %q", got, want)
	}
}

func TestWatchTarget_Subdirectories(t *testing.T) {
	tgt := WatchTarget{Incoming: "in", Staging: "tmp", Dump: "", Errors: "err"}
	got := tgt.Subdirectories()
	want := []string{"in", "tmp", "err"}
	if len(got) != len(want) {
		t.Fatalf("Subdirectories() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Subdirectories()[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}
