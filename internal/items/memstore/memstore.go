// Package memstore is an in-memory item store. It backs the offline CLI and
// tests with the same read interface the PostgreSQL store offers.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
)

type Store struct {
	mu    sync.RWMutex
	items map[string]items.Item
}

func New(initial ...items.Item) *Store {
	s := &Store{items: make(map[string]items.Item, len(initial))}
	for _, it := range initial {
		s.items[it.ID] = it
	}
	return s
}

// Put inserts or replaces an item.
func (s *Store) Put(it items.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

// Delete hard-deletes an item. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// Deactivate soft-deletes an item and reports whether it existed.
func (s *Store) Deactivate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return false
	}
	it.Active = false
	s.items[id] = it
	return true
}

// ActiveItems returns active items ordered by id.
func (s *Store) ActiveItems(ctx context.Context) ([]items.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]items.Item, 0, len(s.items))
	for _, it := range s.items {
		if it.Active {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetItem returns the item with id, active or not.
func (s *Store) GetItem(ctx context.Context, id string) (items.Item, error) {
	if err := ctx.Err(); err != nil {
		return items.Item{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return items.Item{}, apperrors.NotFound(id)
	}
	return it, nil
}
