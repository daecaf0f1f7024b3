// Package storage defines the contract the acceptance pipeline and
// subscription engine expect from a persistent-storage collaborator.
// The core never assumes a specific backend; internal/store/memory
// and internal/store/sqlite are the two implementations this module
// ships.
package storage

import (
	"context"
	"errors"

	"github.com/paul/glienicke/pkg/event"
)

// ErrNotFound is returned by GetByID when no event with the given id
// is stored (or it has been deleted).
var ErrNotFound = errors.New("event not found")

// Store is the storage collaborator interface. Implementations must
// be safe for concurrent use from multiple goroutines; each operation
// runs in its own transaction except where noted.
type Store interface {
	// Persist inserts evt with ON CONFLICT(id) DO NOTHING semantics.
	// For replaceable and parameterized-replaceable kinds, Persist
	// additionally performs the delete-then-insert replacement
	// sequence (spec §4.3 steps 7-8) inside a single transaction.
	Persist(ctx context.Context, evt *event.Event) error

	// Query invokes emit for each stored event matching any of
	// filters, in newest-first order of created_at, honoring each
	// filter's effective limit. Expired events (per nip40) are
	// suppressed. Query returns the first error emit returns, if any,
	// and stops iterating.
	Query(ctx context.Context, filters []*event.Filter, emit func(*event.Event) error) error

	// Count returns the count of stored events matching filters,
	// summed per-filter (spec §4.8 — overlapping filters may
	// over-count).
	Count(ctx context.Context, filters []*event.Filter) (int, error)

	// DeleteByID idempotently deletes the event with the given id. The
	// author-equality / gift-wrap-recipient authorization rule is
	// applied by the caller (pkg/nips/nip09), not inside Store; Store's
	// DeleteByID is an unconditional, idempotent delete-by-id.
	DeleteByID(ctx context.Context, id string) error

	// GetByID retrieves a single stored event by id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*event.Event, error)

	// Close releases any resources held by the store.
	Close() error
}
