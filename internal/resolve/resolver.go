// Package resolve maps snapshot keys to live store identities.
package resolve

import (
	"context"
	"fmt"

	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/types"
)

// AmbiguousKeyError means a natural key matched more than one live
// entity. Natural keys must be unique at the store level for every
// registered type, so this is a data-integrity violation and aborts
// the whole operation.
type AmbiguousKeyError struct {
	Type    string
	Key     types.Key
	Matches int
}

func (e *AmbiguousKeyError) Error() string {
	return fmt.Sprintf("natural key %s of type %s matches %d entities, want exactly 1",
		e.Key.Display(), e.Type, e.Matches)
}

// Resolver resolves keys against a single store, caching every hit.
// A resolver is scoped to one export or restore operation and must
// never be reused across operations: mixing caches from different
// target stores silently corrupts references.
type Resolver struct {
	reg   *registry.Registry
	store storage.Store
	cache map[string]int64
	remap map[string]int64
}

// New creates a resolver bound to a store with an empty cache.
func New(reg *registry.Registry, store storage.Store) *Resolver {
	return &Resolver{
		reg:   reg,
		store: store,
		cache: make(map[string]int64),
	}
}

func cacheKey(typeName string, key types.Key) string {
	return typeName + "\x00" + key.String()
}

// UseRemap installs conflict-detector output. Remapped keys take
// precedence over live lookups for the rest of the operation.
func (r *Resolver) UseRemap(entries []types.RemapEntry) {
	r.remap = make(map[string]int64, len(entries))
	for _, e := range entries {
		r.remap[cacheKey(e.Type, e.SourceKey)] = e.TargetID
	}
}

// Remapping reports whether a remap table is installed.
func (r *Resolver) Remapping() bool {
	return r.remap != nil
}

// Prime records a known (key, identity) pair, typically right after
// the importer creates an entity, so later references to it skip the
// store lookup.
func (r *Resolver) Prime(typeName string, key types.Key, id int64) {
	if key.IsZero() {
		return
	}
	r.cache[cacheKey(typeName, key)] = id
}

// Forget drops a cached entry. Used when an entity's key fields are
// rewritten mid-operation.
func (r *Resolver) Forget(typeName string, key types.Key) {
	delete(r.cache, cacheKey(typeName, key))
}

// Resolve returns the live identity behind a key. Order: resolution
// cache, remap table, then the store. Returns storage.ErrNotFound when
// nothing matches; the caller decides whether that is fatal.
func (r *Resolver) Resolve(ctx context.Context, typeName string, key types.Key) (int64, error) {
	if key.IsZero() {
		return 0, fmt.Errorf("type %s: empty key", typeName)
	}
	ck := cacheKey(typeName, key)
	if id, ok := r.cache[ck]; ok {
		return id, nil
	}
	if id, ok := r.remap[ck]; ok {
		r.cache[ck] = id
		return id, nil
	}

	d, err := r.reg.Get(typeName)
	if err != nil {
		return 0, err
	}

	if key.Kind == types.KindSurrogate {
		// Surrogate references only make sense for entities that kept
		// their identity across export and import.
		if _, err := r.store.Get(ctx, typeName, key.Surrogate); err != nil {
			return 0, err
		}
		r.cache[ck] = key.Surrogate
		return key.Surrogate, nil
	}

	filter, err := r.reg.KeyFilter(d, key)
	if err != nil {
		return 0, err
	}
	matches, err := r.store.Find(ctx, typeName, filter)
	if err != nil {
		return 0, fmt.Errorf("looking up %s %s: %w", typeName, key.Display(), err)
	}
	switch len(matches) {
	case 0:
		return 0, storage.ErrNotFound
	case 1:
		r.cache[ck] = matches[0].ID
		return matches[0].ID, nil
	default:
		return 0, &AmbiguousKeyError{Type: typeName, Key: key, Matches: len(matches)}
	}
}
