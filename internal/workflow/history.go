package workflow

import (
	"context"
	"errors"

	"github.com/kestrel-social/kestrel/internal/domain/storage"
)

// History reads what the workflow persisted. It needs only the store, so
// read-only callers can use it without a gateway or generator.
type History struct {
	store storage.Store
}

// NewHistory creates a History over store.
func NewHistory(store storage.Store) (*History, error) {
	if store == nil {
		return nil, errors.New("workflow: storage is required")
	}
	return &History{store: store}, nil
}

// Candidates returns stored candidates by score descending.
func (h *History) Candidates(ctx context.Context, opts storage.ListOptions) ([]storage.Candidate, error) {
	out, err := h.store.ListCandidates(ctx, opts)
	if err != nil {
		return nil, stepError("list_candidates", KindStorage, err)
	}
	return out, nil
}

// Drafts returns stored drafts newest first.
func (h *History) Drafts(ctx context.Context, opts storage.ListOptions) ([]storage.Draft, error) {
	out, err := h.store.ListDrafts(ctx, opts)
	if err != nil {
		return nil, stepError("list_drafts", KindStorage, err)
	}
	return out, nil
}

// ThreadPlans returns thread plans by schedule ascending.
func (h *History) ThreadPlans(ctx context.Context, opts storage.ListOptions) ([]storage.ThreadPlan, error) {
	out, err := h.store.ListThreadPlans(ctx, opts)
	if err != nil {
		return nil, stepError("get_thread_plans", KindStorage, err)
	}
	return out, nil
}

// Draft returns one draft.
func (h *History) Draft(ctx context.Context, id string) (*storage.Draft, error) {
	d, err := h.store.GetDraft(ctx, id)
	if err != nil {
		return nil, stepError("get_draft", KindStorage, err)
	}
	return d, nil
}

// Telemetry returns loop and tool telemetry newest first.
func (h *History) Telemetry(ctx context.Context, f storage.TelemetryFilter) ([]storage.TelemetryEvent, error) {
	out, err := h.store.ListTelemetry(ctx, f)
	if err != nil {
		return nil, stepError("get_telemetry", KindStorage, err)
	}
	return out, nil
}
