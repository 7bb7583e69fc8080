// Package storage defines the interface for entity storage backends.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup matches no entity. Callers
// decide whether this is fatal; during restore it marks the record as
// failed without aborting the operation.
var ErrNotFound = errors.New("entity not found")

// ErrRollback aborts a Transact call and discards its writes without
// surfacing an error to the caller. Used to implement dry runs.
var ErrRollback = errors.New("rollback requested")

// Entity is one stored row: a surrogate identity plus its scalar and
// foreign-key field values. Foreign-key fields hold the referenced
// entity's identity (int64) or nil.
type Entity struct {
	ID     int64
	Fields map[string]any
}

// Store is the generic store the engine runs against. Implementations
// must write field values verbatim: no auto-now timestamp behavior, no
// field rewriting. Restored timestamps round-trip exactly.
type Store interface {
	// Find returns all entities of the type whose fields equal every
	// entry in where. An empty or nil where matches all entities of
	// the type, ordered by identity.
	Find(ctx context.Context, typeName string, where map[string]any) ([]Entity, error)

	// Get returns the entity with the given identity, or ErrNotFound.
	Get(ctx context.Context, typeName string, id int64) (*Entity, error)

	// Create inserts an entity and returns its store-assigned identity.
	Create(ctx context.Context, typeName string, fields map[string]any) (int64, error)

	// CreateWithID inserts an entity under an explicit identity,
	// bypassing the store's counter. The counter is NOT advanced;
	// callers must reconcile it afterwards.
	CreateWithID(ctx context.Context, typeName string, id int64, fields map[string]any) error

	// Update overwrites the given fields of an existing entity.
	Update(ctx context.Context, typeName string, id int64, fields map[string]any) error

	// Delete removes an entity and its many-to-many links.
	Delete(ctx context.Context, typeName string, id int64) error

	// ManyToMany returns the ordered target identities linked through
	// the given many-to-many field.
	ManyToMany(ctx context.Context, typeName string, id int64, field string) ([]int64, error)

	// SetManyToMany replaces the link set of a many-to-many field,
	// preserving target order.
	SetManyToMany(ctx context.Context, typeName string, id int64, field string, targets []int64) error

	// MaxIdentity returns the highest identity present for the type,
	// 0 when the type has no entities.
	MaxIdentity(ctx context.Context, typeName string) (int64, error)

	// ResetIdentityCounter sets the identity counter so the next
	// organically created entity receives at least next. Idempotent.
	ResetIdentityCounter(ctx context.Context, typeName string, next int64) error

	// Transact runs fn inside a single transactional boundary where
	// the backend supports one. Returning an error rolls back every
	// write fn made; returning ErrRollback rolls back silently.
	Transact(ctx context.Context, fn func(Store) error) error

	// Close releases the backend.
	Close() error
}
