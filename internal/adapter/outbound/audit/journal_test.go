package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/memory"
	"github.com/kestrel-social/kestrel/internal/domain/audit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var day1 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) JournalOption {
	return WithJournalClock(func() time.Time { return t })
}

func newTestJournal(t *testing.T, cfg JournalConfig, opts ...JournalOption) *Journal {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	j, err := NewJournal(cfg, testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewJournal() error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func record(id string, ts time.Time) audit.MutationRecord {
	return audit.MutationRecord{
		ID:        id,
		RequestID: "req-" + id,
		Kind:      audit.KindDecision,
		Tool:      "post_tweet",
		Actor:     "agent:bot",
		Decision:  "allow",
		Outcome:   audit.OutcomePending,
		Timestamp: ts,
	}
}

func readLines(t *testing.T, path string) []audit.MutationRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []audit.MutationRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec audit.MutationRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q is not a record: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestParseJournalFilename(t *testing.T) {
	tests := []struct {
		name   string
		ok     bool
		date   string
		suffix int
	}{
		{"mutations-2025-03-10.jsonl", true, "2025-03-10", 0},
		{"mutations-2025-03-10-4.jsonl", true, "2025-03-10", 4},
		{"mutations-2025-03-10.log", false, "", 0},
		{"audit-2025-03-10.jsonl", false, "", 0},
		{"mutations-latest.jsonl", false, "", 0},
	}
	for _, tt := range tests {
		f, ok := parseJournalFilename(tt.name)
		if ok != tt.ok {
			t.Errorf("parseJournalFilename(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && (f.date != tt.date || f.suffix != tt.suffix) {
			t.Errorf("parseJournalFilename(%q) = %+v", tt.name, f)
		}
	}
}

func TestJournal_AppendWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, JournalConfig{Dir: dir}, fixedClock(day1))

	if err := j.Append(context.Background(), record("1", day1), record("2", day1.Add(time.Minute))); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := j.Sync(); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	got := readLines(t, filepath.Join(dir, "mutations-2025-03-10.jsonl"))
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != "1" || got[1].ID != "2" || got[1].Tool != "post_tweet" {
		t.Errorf("records = %+v", got)
	}
}

func TestJournal_RotatesByRecordDate(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, JournalConfig{Dir: dir}, fixedClock(day1))

	ctx := context.Background()
	if err := j.Append(ctx, record("1", day1), record("2", day1.Add(24*time.Hour))); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	files, err := j.Files()
	if err != nil {
		t.Fatalf("Files() error: %v", err)
	}
	want := []string{"mutations-2025-03-10.jsonl", "mutations-2025-03-11.jsonl"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("Files() = %v, want %v", files, want)
	}
}

func TestJournal_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	j := newTestJournal(t, JournalConfig{Dir: dir, MaxFileSizeMB: 1}, fixedClock(day1))
	// Pretend the current file is full.
	j.mu.Lock()
	j.size = j.maxFileSize
	j.mu.Unlock()

	if err := j.Append(context.Background(), record("1", day1)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "mutations-2025-03-10-1.jsonl")); err != nil {
		t.Errorf("size rotation did not open suffix 1: %v", err)
	}
}

func TestJournal_ResumesHighestSuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"mutations-2025-03-10.jsonl", "mutations-2025-03-10-2.jsonl"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	j := newTestJournal(t, JournalConfig{Dir: dir}, fixedClock(day1))
	if err := j.Append(context.Background(), record("1", day1)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if got := readLines(t, filepath.Join(dir, "mutations-2025-03-10-2.jsonl")); len(got) != 1 {
		t.Errorf("record not appended to the newest file, got %d lines", len(got))
	}
}

func TestJournal_RetentionCleanup(t *testing.T) {
	dir := t.TempDir()
	old := []string{"mutations-2025-01-01.jsonl", "mutations-2025-01-01-1.jsonl"}
	keep := []string{"mutations-2025-03-05.jsonl", "notes.txt"}
	for _, name := range append(old, keep...) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	newTestJournal(t, JournalConfig{Dir: dir, RetentionDays: 30}, fixedClock(day1))

	for _, name := range old {
		if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s should have been deleted, stat err = %v", name, err)
		}
	}
	for _, name := range keep {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should have been kept: %v", name, err)
		}
	}
}

func TestJournal_AppendAfterClose(t *testing.T) {
	j := newTestJournal(t, JournalConfig{}, fixedClock(day1))
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if err := j.Append(context.Background(), record("1", day1)); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Append() after Close = %v, want os.ErrClosed", err)
	}
}

type failingAppender struct{ calls int }

func (f *failingAppender) Append(context.Context, ...audit.MutationRecord) error {
	f.calls++
	return errors.New("disk full")
}

func TestMirroredStore(t *testing.T) {
	ctx := context.Background()

	t.Run("copies to journal", func(t *testing.T) {
		dir := t.TempDir()
		primary := memory.NewAuditStore()
		store := NewMirroredStore(primary, newTestJournal(t, JournalConfig{Dir: dir}, fixedClock(day1)), testLogger())

		if err := store.Append(ctx, record("1", day1)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		got, err := store.Query(ctx, audit.Filter{RequestID: "req-1"})
		if err != nil || len(got) != 1 {
			t.Fatalf("Query() = %v, %v", got, err)
		}
		if lines := readLines(t, filepath.Join(dir, "mutations-2025-03-10.jsonl")); len(lines) != 1 {
			t.Errorf("journal has %d lines, want 1", len(lines))
		}
	})

	t.Run("mirror failure is not fatal", func(t *testing.T) {
		primary := memory.NewAuditStore()
		mirror := &failingAppender{}
		store := NewMirroredStore(primary, mirror, testLogger())

		if err := store.Append(ctx, record("1", day1)); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
		if mirror.calls != 1 || primary.Len() != 1 {
			t.Errorf("mirror calls = %d, primary len = %d", mirror.calls, primary.Len())
		}
	})
}
