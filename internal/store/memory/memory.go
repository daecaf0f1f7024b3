// Package memory provides an in-memory storage.Store, intended for
// tests and local development rather than production use.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/nips/nip40"
	"github.com/paul/glienicke/pkg/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu      sync.RWMutex
	events  map[string]*event.Event
	deleted map[string]bool
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events:  make(map[string]*event.Event),
		deleted: make(map[string]bool),
	}
}

// Persist stores evt, applying the replaceable / parameterized-
// replaceable supersede rule atomically under the store's lock (this
// in-memory store's single mutex stands in for the "one transaction"
// requirement of spec §4.3/§5).
func (s *Store) Persist(ctx context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted[evt.ID] {
		return nil
	}
	if _, exists := s.events[evt.ID]; exists {
		return nil
	}

	switch evt.Classify() {
	case event.KindReplaceable:
		key := evt.ReplaceableKey()
		for id, existing := range s.events {
			if s.deleted[id] || existing.ReplaceableKey() != key {
				continue
			}
			if evt.Supersedes(existing) {
				s.deleted[id] = true
			} else {
				return nil
			}
		}
	case event.KindParameterizedReplaceable:
		key := evt.ParameterizedKey()
		for id, existing := range s.events {
			if s.deleted[id] || existing.Classify() != event.KindParameterizedReplaceable {
				continue
			}
			if existing.ParameterizedKey() != key {
				continue
			}
			if evt.Supersedes(existing) {
				s.deleted[id] = true
			} else {
				return nil
			}
		}
	}

	s.events[evt.ID] = evt
	return nil
}

// Query invokes emit for every stored, non-expired event matching any
// filter, newest-first, honoring each filter's effective limit.
func (s *Store) Query(ctx context.Context, filters []*event.Filter, emit func(*event.Event) error) error {
	s.mu.RLock()
	matches := s.collect(filters)
	s.mu.RUnlock()

	for _, evt := range matches {
		if err := emit(evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) collect(filters []*event.Filter) []*event.Event {
	seen := make(map[string]bool)
	var results []*event.Event

	for _, filter := range filters {
		var perFilter []*event.Event
		for id, evt := range s.events {
			if s.deleted[id] || seen[id] {
				continue
			}
			if nip40.ShouldFilterEvent(evt) {
				continue
			}
			if evt.Matches(filter) {
				perFilter = append(perFilter, evt)
				seen[id] = true
			}
		}
		sort.Slice(perFilter, func(i, j int) bool {
			return perFilter[i].CreatedAt > perFilter[j].CreatedAt
		})
		if limit := filter.EffectiveLimit(); len(perFilter) > limit {
			perFilter = perFilter[:limit]
		}
		results = append(results, perFilter...)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt > results[j].CreatedAt
	})
	return results
}

// Count returns the sum, across filters, of matching non-deleted,
// non-expired event counts.
func (s *Store) Count(ctx context.Context, filters []*event.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, filter := range filters {
		for id, evt := range s.events {
			if s.deleted[id] {
				continue
			}
			if nip40.ShouldFilterEvent(evt) {
				continue
			}
			if evt.Matches(filter) {
				total++
			}
		}
	}
	return total, nil
}

// DeleteByID idempotently marks id as deleted.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[id] = true
	return nil
}

// GetByID retrieves a single event by id.
func (s *Store) GetByID(ctx context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.deleted[id] {
		return nil, storage.ErrNotFound
	}
	evt, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return evt, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of live (non-deleted) stored events, for
// tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.events {
		if !s.deleted[id] {
			n++
		}
	}
	return n
}
