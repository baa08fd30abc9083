// Package audit mirrors the mutation audit trail to JSON Lines files with
// daily rotation, a size cap and retention cleanup. The SQL store stays the
// source of truth for queries; the journal is for shipping and grepping.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/audit"
)

// journalFilePattern matches mutations-YYYY-MM-DD.jsonl and mutations-YYYY-MM-DD-N.jsonl.
var journalFilePattern = regexp.MustCompile(`^mutations-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

type journalFile struct {
	name   string
	date   string
	suffix int
}

func parseJournalFilename(name string) (journalFile, bool) {
	m := journalFilePattern.FindStringSubmatch(name)
	if m == nil {
		return journalFile{}, false
	}
	f := journalFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return journalFile{}, false
		}
		f.suffix = n
	}
	return f, true
}

func journalFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("mutations-%s.jsonl", date)
	}
	return fmt.Sprintf("mutations-%s-%d.jsonl", date, suffix)
}

// JournalConfig configures a Journal.
type JournalConfig struct {
	Dir string
	// RetentionDays is how long files are kept (default 30).
	RetentionDays int
	// MaxFileSizeMB rotates the current file once it reaches this size (default 100).
	MaxFileSizeMB int
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalClock overrides the time source used for retention.
func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *Journal) {
		j.now = now
	}
}

// Journal appends mutation records as JSON lines.
type Journal struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex
	file   *os.File
	date   string
	size   int64
	suffix int
	cancel context.CancelFunc
	closed bool
}

// NewJournal creates dir if needed, removes expired files, opens the newest
// file for today and starts the hourly retention loop.
func NewJournal(cfg JournalConfig, logger *slog.Logger, opts ...JournalOption) (*Journal, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Journal{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		now:           time.Now,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(j)
	}

	today := j.now().UTC().Format(time.DateOnly)
	if err := j.open(today, j.highestSuffix(today)); err != nil {
		cancel()
		return nil, err
	}
	j.cleanup()
	go j.cleanupLoop(ctx)
	return j, nil
}

// Append writes one line per record, rotating by record date and file size.
func (j *Journal) Append(_ context.Context, records ...audit.MutationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return os.ErrClosed
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(time.DateOnly)
		if date != j.date {
			if err := j.rotateLocked(date, j.highestSuffix(date)); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if j.size >= j.maxFileSize {
			if err := j.rotateLocked(j.date, j.suffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal mutation record: %w", err)
		}
		n, err := j.file.Write(append(data, '\n'))
		j.size += int64(n)
		if err != nil {
			return fmt.Errorf("write mutation record: %w", err)
		}
	}
	return nil
}

// Sync flushes the current file to disk.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	return j.file.Sync()
}

// Close stops the retention loop and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	j.cancel()
	if j.file == nil {
		return nil
	}
	_ = j.file.Sync()
	err := j.file.Close()
	j.file = nil
	return err
}

// Files lists journal files oldest first.
func (j *Journal) Files() ([]string, error) {
	files, err := j.list()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.name
	}
	return out, nil
}

func (j *Journal) open(date string, suffix int) error {
	name := journalFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat journal %s: %w", name, err)
	}
	j.file, j.date, j.suffix, j.size = f, date, suffix, info.Size()
	return nil
}

// rotateLocked must be called with j.mu held.
func (j *Journal) rotateLocked(date string, suffix int) error {
	if j.file != nil {
		_ = j.file.Sync()
		_ = j.file.Close()
		j.file = nil
	}
	return j.open(date, suffix)
}

func (j *Journal) highestSuffix(date string) int {
	files, err := j.list()
	if err != nil {
		return 0
	}
	highest := 0
	for _, f := range files {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

func (j *Journal) list() ([]journalFile, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var files []journalFile
	for _, e := range entries {
		if f, ok := parseJournalFilename(e.Name()); ok {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(a, b int) bool {
		if files[a].date != files[b].date {
			return files[a].date < files[b].date
		}
		return files[a].suffix < files[b].suffix
	})
	return files, nil
}

// cleanup deletes files whose date is older than the retention period.
// The file currently written is never deleted.
func (j *Journal) cleanup() {
	files, err := j.list()
	if err != nil {
		j.logger.Error("journal cleanup: failed to read directory", "dir", j.dir, "error", err)
		return
	}
	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)

	j.mu.Lock()
	current := journalFilename(j.date, j.suffix)
	j.mu.Unlock()

	deleted := 0
	for _, f := range files {
		day, err := time.Parse(time.DateOnly, f.date)
		if err != nil || !day.Before(cutoff) || f.name == current {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, f.name)); err != nil {
			j.logger.Error("journal cleanup: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		j.logger.Info("journal cleanup completed", "deleted", deleted)
	}
}

func (j *Journal) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}
