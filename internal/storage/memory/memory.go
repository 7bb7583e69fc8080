// Package memory implements the storage interface with in-memory data
// structures. Used by tests and for ephemeral scratch targets.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/types"
)

// MemoryStore implements the Store interface using maps.
type MemoryStore struct {
	mu sync.RWMutex

	tables   map[string]map[int64]map[string]any // type -> id -> fields
	links    map[string]map[int64][]int64        // type\x00field -> id -> ordered targets
	counters map[string]int64                    // type -> last assigned identity

	inTx   bool
	closed bool
}

// New creates an empty in-memory store.
func New() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[string]map[int64]map[string]any),
		links:    make(map[string]map[int64][]int64),
		counters: make(map[string]int64),
	}
}

func linkKey(typeName, field string) string {
	return typeName + "\x00" + field
}

func (m *MemoryStore) table(typeName string) map[int64]map[string]any {
	t, ok := m.tables[typeName]
	if !ok {
		t = make(map[int64]map[string]any)
		m.tables[typeName] = t
	}
	return t
}

// matches reports whether the entity's fields equal every filter
// entry. Comparison is canonical so int64 store values match float64
// JSON values.
func matches(fields, where map[string]any) bool {
	for k, want := range where {
		got, ok := fields[k]
		if !ok {
			return false
		}
		if types.CanonicalScalar(got) != types.CanonicalScalar(want) {
			return false
		}
	}
	return true
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Find returns entities matching the filter, ordered by identity.
func (m *MemoryStore) Find(ctx context.Context, typeName string, where map[string]any) ([]storage.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []storage.Entity
	for id, fields := range m.tables[typeName] {
		if matches(fields, where) {
			out = append(out, storage.Entity{ID: id, Fields: copyFields(fields)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the entity with the given identity.
func (m *MemoryStore) Get(ctx context.Context, typeName string, id int64) (*storage.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.tables[typeName][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Entity{ID: id, Fields: copyFields(fields)}, nil
}

// Create inserts an entity under the next counter identity.
func (m *MemoryStore) Create(ctx context.Context, typeName string, fields map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(typeName)
	m.counters[typeName]++
	id := m.counters[typeName]
	if _, exists := t[id]; exists {
		return 0, fmt.Errorf("identity collision for %s id %d: counter behind existing entities", typeName, id)
	}
	t[id] = copyFields(fields)
	return id, nil
}

// CreateWithID inserts an entity under an explicit identity without
// advancing the counter.
func (m *MemoryStore) CreateWithID(ctx context.Context, typeName string, id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(typeName)
	if _, exists := t[id]; exists {
		return fmt.Errorf("%s id %d already exists", typeName, id)
	}
	t[id] = copyFields(fields)
	return nil
}

// Update overwrites the given fields of an existing entity.
func (m *MemoryStore) Update(ctx context.Context, typeName string, id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tables[typeName][id]
	if !ok {
		return storage.ErrNotFound
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

// Delete removes an entity and its outgoing many-to-many links.
func (m *MemoryStore) Delete(ctx context.Context, typeName string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[typeName]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := t[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t, id)
	prefix := typeName + "\x00"
	for key, byID := range m.links {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(byID, id)
		}
	}
	return nil
}

// ManyToMany returns the ordered targets linked through a field.
func (m *MemoryStore) ManyToMany(ctx context.Context, typeName string, id int64, field string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.tables[typeName][id]; !ok {
		return nil, storage.ErrNotFound
	}
	targets := m.links[linkKey(typeName, field)][id]
	out := make([]int64, len(targets))
	copy(out, targets)
	return out, nil
}

// SetManyToMany replaces the link set of a field, preserving order.
func (m *MemoryStore) SetManyToMany(ctx context.Context, typeName string, id int64, field string, targets []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[typeName][id]; !ok {
		return storage.ErrNotFound
	}
	key := linkKey(typeName, field)
	byID, ok := m.links[key]
	if !ok {
		byID = make(map[int64][]int64)
		m.links[key] = byID
	}
	stored := make([]int64, len(targets))
	copy(stored, targets)
	byID[id] = stored
	return nil
}

// MaxIdentity returns the highest identity present for the type.
func (m *MemoryStore) MaxIdentity(ctx context.Context, typeName string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var max int64
	for id := range m.tables[typeName] {
		if id > max {
			max = id
		}
	}
	return max, nil
}

// ResetIdentityCounter sets the counter so the next Create assigns at
// least next.
func (m *MemoryStore) ResetIdentityCounter(ctx context.Context, typeName string, next int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[typeName] = next - 1
	return nil
}

// Transact snapshots the whole store, runs fn, and restores the
// snapshot if fn fails. Nested transactions are not supported.
func (m *MemoryStore) Transact(ctx context.Context, fn func(storage.Store) error) error {
	m.mu.Lock()
	if m.inTx {
		m.mu.Unlock()
		return fmt.Errorf("nested transaction not supported")
	}
	m.inTx = true
	saved := m.snapshotLocked()
	m.mu.Unlock()

	err := fn(m)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inTx = false
	if err != nil {
		m.restoreLocked(saved)
		if errors.Is(err, storage.ErrRollback) {
			return nil
		}
		return err
	}
	return nil
}

type memSnapshot struct {
	tables   map[string]map[int64]map[string]any
	links    map[string]map[int64][]int64
	counters map[string]int64
}

func (m *MemoryStore) snapshotLocked() *memSnapshot {
	s := &memSnapshot{
		tables:   make(map[string]map[int64]map[string]any, len(m.tables)),
		links:    make(map[string]map[int64][]int64, len(m.links)),
		counters: make(map[string]int64, len(m.counters)),
	}
	for typeName, t := range m.tables {
		ct := make(map[int64]map[string]any, len(t))
		for id, fields := range t {
			ct[id] = copyFields(fields)
		}
		s.tables[typeName] = ct
	}
	for key, byID := range m.links {
		cl := make(map[int64][]int64, len(byID))
		for id, targets := range byID {
			c := make([]int64, len(targets))
			copy(c, targets)
			cl[id] = c
		}
		s.links[key] = cl
	}
	for k, v := range m.counters {
		s.counters[k] = v
	}
	return s
}

func (m *MemoryStore) restoreLocked(s *memSnapshot) {
	m.tables = s.tables
	m.links = s.links
	m.counters = s.counters
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
