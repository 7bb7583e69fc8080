// Package conflict detects the post-reinit scenario: reference
// entities that already exist in the target store under different
// surrogate identities than the snapshot implies.
//
// A full reset of a target store regenerates its reference data
// (role definitions, workflow-state catalogs) with fresh identities
// while keeping the same natural keys. Without remapping, every
// foreign key pointing at those entities would fail to resolve even
// though the semantically correct target exists.
package conflict

import (
	"context"
	"fmt"

	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/resolve"
	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/types"
)

// Detect compares the snapshot's reference-type records against the
// live store. Which types count as reference types is the caller's
// policy; the engine never hardcodes type names.
//
// A RemapEntry is produced for every record whose natural key matches
// a live entity under a different identity. When no mismatch exists
// the returned mode is ModeNormal and the entry list is empty.
func Detect(ctx context.Context, reg *registry.Registry, store storage.Store, records []types.PortableRecord, referenceTypes map[string]bool) ([]types.RemapEntry, types.Mode, error) {
	if len(referenceTypes) == 0 {
		return nil, types.ModeNormal, nil
	}
	for name := range referenceTypes {
		if !reg.Has(name) {
			return nil, types.ModeNormal, &registry.UnknownTypeError{Type: name}
		}
	}

	var entries []types.RemapEntry
	for i := range records {
		rec := &records[i]
		if !referenceTypes[rec.Type] {
			continue
		}
		if len(rec.NaturalKey) == 0 {
			// Nothing to match on; the importer will fall back to
			// surrogate identity for this record.
			continue
		}

		d, err := reg.Get(rec.Type)
		if err != nil {
			return nil, types.ModeNormal, err
		}
		key := rec.Key()
		filter, err := reg.KeyFilter(d, key)
		if err != nil {
			return nil, types.ModeNormal, fmt.Errorf("reference record %s %s: %w", rec.Type, key.Display(), err)
		}
		matches, err := store.Find(ctx, rec.Type, filter)
		if err != nil {
			return nil, types.ModeNormal, fmt.Errorf("looking up %s %s: %w", rec.Type, key.Display(), err)
		}
		switch {
		case len(matches) == 0:
			continue
		case len(matches) > 1:
			return nil, types.ModeNormal, &resolve.AmbiguousKeyError{Type: rec.Type, Key: key, Matches: len(matches)}
		}

		live := matches[0]
		if rec.ID != nil && live.ID != *rec.ID {
			entries = append(entries, types.RemapEntry{
				Type:      rec.Type,
				SourceKey: key,
				TargetID:  live.ID,
			})
		}
	}

	if len(entries) == 0 {
		return nil, types.ModeNormal, nil
	}
	return entries, types.ModeRemap, nil
}
