package audit

import (
	"context"
	"log/slog"

	"github.com/kestrel-social/kestrel/internal/domain/audit"
)

// Appender receives copies of appended records.
type Appender interface {
	Append(ctx context.Context, records ...audit.MutationRecord) error
}

// MirroredStore writes to a primary store and copies every successful append
// to a mirror. A mirror failure is logged and never fails the append.
type MirroredStore struct {
	audit.Store
	mirror Appender
	logger *slog.Logger
}

// NewMirroredStore wraps primary.
func NewMirroredStore(primary audit.Store, mirror Appender, logger *slog.Logger) *MirroredStore {
	return &MirroredStore{Store: primary, mirror: mirror, logger: logger}
}

// Append writes to the primary store, then to the mirror.
func (m *MirroredStore) Append(ctx context.Context, records ...audit.MutationRecord) error {
	if err := m.Store.Append(ctx, records...); err != nil {
		return err
	}
	if err := m.mirror.Append(ctx, records...); err != nil {
		m.logger.Warn("audit mirror append failed", "records", len(records), "error", err)
	}
	return nil
}

var (
	_ audit.Store = (*MirroredStore)(nil)
	_ Appender    = (*Journal)(nil)
)
