package entity

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{entities: make(map[string]Entity)}
}

// Add implements [Store.Add].
func (s *MemStore) Add(_ context.Context, e Entity) (Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e = clone(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entities == nil {
		s.entities = make(map[string]Entity)
	}
	if _, exists := s.entities[e.ID]; exists {
		return Entity{}, ErrDuplicateID
	}
	s.entities[e.ID] = e
	return clone(e), nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return clone(e), nil
}

// FindByName implements [Store.FindByName]. Exact (case-insensitive) matches
// win over prefix matches; ties resolve to the alphabetically first name.
func (s *MemStore) FindByName(_ context.Context, kind Kind, name string) (Entity, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return Entity{}, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var prefix []Entity
	for _, e := range s.sorted() {
		if kind != "" && e.Kind != kind {
			continue
		}
		got := strings.ToLower(e.Name)
		if got == want {
			return clone(e), nil
		}
		if strings.HasPrefix(got, want) {
			prefix = append(prefix, e)
		}
	}
	if len(prefix) > 0 {
		return clone(prefix[0]), nil
	}
	return Entity{}, ErrNotFound
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, opts ListOptions) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Entity, 0, len(s.entities))
	for _, e := range s.sorted() {
		if !matchesOpts(e, opts) {
			continue
		}
		result = append(result, clone(e))
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(_ context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entities[e.ID]
	if !ok {
		return ErrNotFound
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = old.CreatedAt
	}
	s.entities[e.ID] = clone(e)
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return ErrNotFound
	}
	delete(s.entities, id)
	return nil
}

// BulkImport implements [Store.BulkImport].
func (s *MemStore) BulkImport(ctx context.Context, entities []Entity) (int, error) {
	count := 0
	for _, e := range entities {
		if _, err := s.Add(ctx, e); err != nil {
			return count, fmt.Errorf("entity: bulk import at index %d (name %q): %w", count, e.Name, err)
		}
		count++
	}
	return count, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// sorted returns the stored entities ordered by name then ID.
// The caller must hold s.mu.
func (s *MemStore) sorted() []Entity {
	out := slices.Collect(maps.Values(s.entities))
	slices.SortFunc(out, func(a, b Entity) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func matchesOpts(e Entity, opts ListOptions) bool {
	if opts.Kind != "" && e.Kind != opts.Kind {
		return false
	}
	if q := strings.ToLower(opts.Query); q != "" {
		if !strings.Contains(strings.ToLower(e.Name), q) &&
			!strings.Contains(strings.ToLower(e.Description), q) {
			return false
		}
	}
	for _, want := range opts.Tags {
		if !slices.Contains(e.Tags, want) {
			return false
		}
	}
	return true
}

// clone deep-copies the reference fields of e so callers cannot mutate
// stored state.
func clone(e Entity) Entity {
	e.Attributes = maps.Clone(e.Attributes)
	e.Tags = slices.Clone(e.Tags)
	return e
}
