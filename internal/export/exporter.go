// Package export walks a live store and produces portable records
// with every reference rewritten as a natural key.
package export

import (
	"context"
	"fmt"

	"github.com/grafton-io/grafton/internal/debug"
	"github.com/grafton-io/grafton/internal/plan"
	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/types"
)

// Exporter serializes a store in phase order. Read-only: no writes
// are made against the store.
type Exporter struct {
	reg   *registry.Registry
	store storage.Store

	// keyCache memoizes type -> identity -> portable key so repeated
	// references to the same target cost one lookup.
	keyCache map[string]map[int64]types.Key
}

// New creates an exporter bound to one store; like the resolver it is
// scoped to a single operation.
func New(reg *registry.Registry, store storage.Store) *Exporter {
	return &Exporter{
		reg:      reg,
		store:    store,
		keyCache: make(map[string]map[int64]types.Key),
	}
}

// Export produces one portable record per live entity, in phase order
// so referenced types always precede referencing types.
func Export(ctx context.Context, reg *registry.Registry, store storage.Store) ([]types.PortableRecord, error) {
	return New(reg, store).Run(ctx)
}

// Run performs the export.
func (e *Exporter) Run(ctx context.Context) ([]types.PortableRecord, error) {
	order, err := plan.Order(e.reg)
	if err != nil {
		return nil, err
	}

	var records []types.PortableRecord
	for _, typeName := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := e.reg.Get(typeName)
		if err != nil {
			return nil, err
		}
		entities, err := e.store.Find(ctx, typeName, nil)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", typeName, err)
		}
		debug.Logf("export: %s (%d entities)\n", typeName, len(entities))
		for i := range entities {
			rec, err := e.exportEntity(ctx, d, &entities[i])
			if err != nil {
				return nil, err
			}
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (e *Exporter) exportEntity(ctx context.Context, d *registry.EntityTypeDescriptor, entity *storage.Entity) (*types.PortableRecord, error) {
	id := entity.ID
	rec := &types.PortableRecord{
		Type:       d.Name,
		ID:         &id,
		NaturalKey: e.reg.NaturalKeyOf(d, entity.Fields),
		Fields:     make(map[string]any, len(d.Fields)),
	}
	for _, f := range d.Fields {
		rec.Fields[f] = entity.Fields[f]
	}

	// Remember this entity's own key so referrers resolve it from the
	// cache instead of re-reading the store.
	e.cacheKey(d.Name, id, rec.Key())

	for _, fk := range d.ForeignKeys {
		targetID, ok, err := refID(entity.Fields[fk.Field])
		if err != nil {
			return nil, fmt.Errorf("%s %d: foreign key %s: %w", d.Name, id, fk.Field, err)
		}
		if !ok {
			continue
		}
		key, err := e.keyOf(ctx, fk.Target, targetID)
		if err != nil {
			return nil, fmt.Errorf("%s %d: foreign key %s: %w", d.Name, id, fk.Field, err)
		}
		if rec.ForeignKeys == nil {
			rec.ForeignKeys = make(map[string]types.Key)
		}
		rec.ForeignKeys[fk.Field] = key
	}

	for _, m2m := range d.ManyToMany {
		targets, err := e.store.ManyToMany(ctx, d.Name, id, m2m.Field)
		if err != nil {
			return nil, fmt.Errorf("%s %d: many-to-many %s: %w", d.Name, id, m2m.Field, err)
		}
		if len(targets) == 0 {
			continue
		}
		keys := make([]types.Key, 0, len(targets))
		for _, targetID := range targets {
			key, err := e.keyOf(ctx, m2m.Target, targetID)
			if err != nil {
				return nil, fmt.Errorf("%s %d: many-to-many %s: %w", d.Name, id, m2m.Field, err)
			}
			keys = append(keys, key)
		}
		if rec.ManyToMany == nil {
			rec.ManyToMany = make(map[string][]types.Key)
		}
		rec.ManyToMany[m2m.Field] = keys
	}

	return rec, nil
}

// keyOf computes the portable key for a referenced entity: its
// natural key when the target type declares one, its surrogate
// identity otherwise. The surrogate form tells the importer not to
// attempt natural-key resolution for that reference.
func (e *Exporter) keyOf(ctx context.Context, typeName string, id int64) (types.Key, error) {
	if byID, ok := e.keyCache[typeName]; ok {
		if key, ok := byID[id]; ok {
			return key, nil
		}
	}

	d, err := e.reg.Get(typeName)
	if err != nil {
		return types.Key{}, err
	}
	key := types.SurrogateKey(id)
	if len(d.KeyFields()) > 0 {
		entity, err := e.store.Get(ctx, typeName, id)
		if err != nil {
			return types.Key{}, fmt.Errorf("dangling reference to %s %d: %w", typeName, id, err)
		}
		key = types.Key{Kind: types.KindTuple, Parts: e.reg.NaturalKeyOf(d, entity.Fields)}
	}
	e.cacheKey(typeName, id, key)
	return key, nil
}

func (e *Exporter) cacheKey(typeName string, id int64, key types.Key) {
	byID, ok := e.keyCache[typeName]
	if !ok {
		byID = make(map[int64]types.Key)
		e.keyCache[typeName] = byID
	}
	byID[id] = key
}

// refID coerces a stored foreign-key value to an identity. Reports
// false for NULL references.
func refID(v any) (int64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return x, true, nil
	case int:
		return int64(x), true, nil
	case float64:
		return int64(x), true, nil
	default:
		return 0, false, fmt.Errorf("unexpected reference value %v (%T)", v, v)
	}
}
