package approval

import "context"

// Filter selects items for listing. Empty fields match anything.
type Filter struct {
	Status Status
	Tool   string
	Limit  int
}

// Store persists approval items with per-item write serialization.
type Store interface {
	// Create stores a new item. The ID must be unique.
	Create(ctx context.Context, item *Item) error
	// Get returns a copy of the item, or ErrNotFound.
	Get(ctx context.Context, id string) (*Item, error)
	// List returns copies of matching items, oldest first.
	List(ctx context.Context, f Filter) ([]*Item, error)
	// Update applies fn to the item while holding that item's lock and
	// persists the result if fn returns nil.
	Update(ctx context.Context, id string, fn func(*Item) error) (*Item, error)
	// CountPending returns the number of pending items.
	CountPending(ctx context.Context) (int, error)
}
