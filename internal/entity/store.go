package entity

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrDuplicateID is returned by Add when an entity with the same ID already exists.
var ErrDuplicateID = errors.New("entity with that ID already exists")

// Store is the CRUD layer over business records.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Add creates a new entity and returns it with ID and CreatedAt filled in.
	// Returns [ErrDuplicateID] if an entity with the same non-empty ID exists.
	Add(ctx context.Context, e Entity) (Entity, error)

	// Get retrieves an entity by ID.
	// Returns [ErrNotFound] when no entity with that ID exists.
	Get(ctx context.Context, id string) (Entity, error)

	// FindByName returns the first entity whose name matches name
	// case-insensitively. An empty kind matches every kind.
	// Returns [ErrNotFound] when nothing matches.
	FindByName(ctx context.Context, kind Kind, name string) (Entity, error)

	// List returns the entities matching opts ordered by name.
	List(ctx context.Context, opts ListOptions) ([]Entity, error)

	// Update replaces an existing entity.
	// Returns [ErrNotFound] when no entity with that ID exists.
	Update(ctx context.Context, e Entity) error

	// Remove deletes an entity by ID.
	// Returns [ErrNotFound] when no entity with that ID exists.
	Remove(ctx context.Context, id string) error

	// BulkImport adds entities one at a time and returns how many were
	// added before the first error.
	BulkImport(ctx context.Context, entities []Entity) (int, error)
}

// ListOptions narrows the result set of [Store.List].
// All non-zero fields are applied as AND conditions.
type ListOptions struct {
	// Kind restricts results to a single kind.
	Kind Kind

	// Query keeps entities whose name or description contains it
	// case-insensitively.
	Query string

	// Tags keeps entities carrying all of the listed tags.
	Tags []string

	// Limit caps the number of results. Zero means no limit.
	Limit int
}
