// Package restore writes a portable snapshot into a live store.
//
// Restoration is best-effort per record: a record whose reference
// cannot be resolved is recorded as failed and skipped, while the rest
// of the snapshot proceeds. Structural problems (unknown type, cyclic
// descriptors, ambiguous natural key) abort the whole operation and
// roll back every write.
package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grafton-io/grafton/internal/debug"
	"github.com/grafton-io/grafton/internal/plan"
	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/resolve"
	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/types"
)

// Auditor is notified once per restore with the final report.
// Fire-and-forget: a failing auditor never fails the restore.
type Auditor interface {
	RecordRestore(report *types.RestoreReport)
}

// Options configure a single restore operation.
type Options struct {
	// Mode and Remap come from the conflict detector. In ModeRemap the
	// resolver consults Remap before the live store, and remapped
	// records themselves are left untouched rather than updated.
	Mode  types.Mode
	Remap []types.RemapEntry

	// DryRun runs the full operation inside a transaction that is
	// always rolled back. The report describes what would happen.
	DryRun bool

	// OperationID labels the report. A fresh UUID is generated when
	// empty.
	OperationID string

	// Auditor, when set, receives the final report.
	Auditor Auditor
}

// Restore writes records into store in dependency order and returns a
// report covering every record, even when some or all of them failed.
// An error return means a structural problem; no writes survive it.
func Restore(ctx context.Context, reg *registry.Registry, store storage.Store, records []types.PortableRecord, opts Options) (*types.RestoreReport, error) {
	started := time.Now().UTC()
	operationID := opts.OperationID
	if operationID == "" {
		operationID = uuid.New().String()
	}
	if opts.Mode == "" {
		opts.Mode = types.ModeNormal
	}

	// Unknown types are structural: fail before touching the store.
	for i := range records {
		if records[i].Type != "" && !reg.Has(records[i].Type) {
			return nil, &registry.UnknownTypeError{Type: records[i].Type}
		}
	}
	order, err := plan.Order(reg)
	if err != nil {
		return nil, err
	}

	var report *types.RestoreReport
	err = store.Transact(ctx, func(tx storage.Store) error {
		res := resolve.New(reg, tx)
		remapped := make(map[string]bool, len(opts.Remap))
		if opts.Mode == types.ModeRemap {
			res.UseRemap(opts.Remap)
			for _, e := range opts.Remap {
				remapped[e.Type+"\x00"+e.SourceKey.String()] = true
			}
		}

		r := &restorer{
			reg:      reg,
			store:    tx,
			res:      res,
			remapped: remapped,
			order:    order,
		}
		if err := r.run(ctx, records); err != nil {
			return err
		}
		warnings := Reconcile(ctx, tx, reg)

		report = buildReport(operationID, opts.Mode, opts.DryRun,
			r.events, warnings, started, time.Now().UTC())
		if opts.DryRun {
			return storage.ErrRollback
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opts.Auditor != nil {
		opts.Auditor.RecordRestore(report)
	}
	return report, nil
}

// recState tracks one snapshot record across the three passes.
type recState struct {
	rec      *types.PortableRecord
	eventIdx int
	id       int64
	// selfLinks holds foreign keys into the record's own type, applied
	// in the final pass once every entity of the type exists.
	selfLinks map[string]types.Key
}

type restorer struct {
	reg      *registry.Registry
	store    storage.Store
	res      *resolve.Resolver
	remapped map[string]bool
	order    []string

	events   []event
	byType   map[string][]*recState
	deferred []*recState
}

func (r *restorer) run(ctx context.Context, records []types.PortableRecord) error {
	r.byType = make(map[string][]*recState, len(r.order))
	for i := range records {
		rec := &records[i]
		st := &recState{rec: rec, eventIdx: -1, id: -1}
		if rec.Type == "" {
			r.record(st, outcomeFailed, types.ReasonValidation, "record has no type")
			continue
		}
		r.byType[rec.Type] = append(r.byType[rec.Type], st)
	}

	// Primary pass: scalar fields and cross-type foreign keys, in
	// dependency order. Cancellation is checked between types, never
	// mid-type.
	for _, typeName := range r.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		debug.Logf("restore: primary pass %s (%d records)\n", typeName, len(r.byType[typeName]))
		for _, st := range r.byType[typeName] {
			if err := r.importRecord(ctx, st); err != nil {
				return err
			}
		}
	}

	// Second pass: many-to-many links. Targets may live later in the
	// phase order, so linking waits until every type is in place.
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, typeName := range r.order {
		for _, st := range r.byType[typeName] {
			if err := r.applyManyToMany(ctx, st); err != nil {
				return err
			}
		}
	}

	// Third pass: deferred self-links.
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, st := range r.deferred {
		if err := r.applySelfLinks(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (r *restorer) record(st *recState, o outcome, reason types.FailureReason, detail string) {
	st.eventIdx = len(r.events)
	r.events = append(r.events, event{
		typeName: st.rec.Type,
		key:      st.rec.Key().Display(),
		outcome:  o,
		reason:   reason,
		detail:   detail,
	})
}

// demote converts a record's earlier success into a failure when a
// later pass cannot resolve one of its links. The entity's scalar data
// stays in the store; the report tells the caller which links are
// missing.
func (r *restorer) demote(st *recState, reason types.FailureReason, detail string) {
	ev := &r.events[st.eventIdx]
	ev.outcome = outcomeFailed
	ev.reason = reason
	ev.detail = detail
}

func (r *restorer) importRecord(ctx context.Context, st *recState) error {
	rec := st.rec
	if err := rec.Validate(); err != nil {
		r.record(st, outcomeFailed, types.ReasonValidation, err.Error())
		return nil
	}
	d, err := r.reg.Get(rec.Type)
	if err != nil {
		return err
	}

	fields := make(map[string]any, len(rec.Fields)+len(rec.ForeignKeys))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	for field, key := range rec.ForeignKeys {
		target, ok := d.ForeignKeyTarget(field)
		if !ok {
			r.record(st, outcomeFailed, types.ReasonValidation,
				fmt.Sprintf("field %q is not a declared foreign key of %s", field, rec.Type))
			return nil
		}
		if target == d.Name {
			// Self-links wait until every entity of the type exists.
			if st.selfLinks == nil {
				st.selfLinks = make(map[string]types.Key)
			}
			st.selfLinks[field] = key
			fields[field] = nil
			continue
		}
		id, err := r.res.Resolve(ctx, target, key)
		if errors.Is(err, storage.ErrNotFound) {
			r.record(st, outcomeFailed, types.ReasonUnresolvedReference,
				fmt.Sprintf("foreign key %s -> %s %s not found", field, target, key.Display()))
			return nil
		}
		if err != nil {
			return err
		}
		fields[field] = id
	}

	key := rec.Key()
	liveID, err := r.res.Resolve(ctx, rec.Type, key)
	switch {
	case err == nil:
		// Already present. Remapped reference entities are the live
		// store's own; everything else converges by field update.
		st.id = liveID
		if r.remapped[rec.Type+"\x00"+key.String()] {
			r.record(st, outcomeSkipped, "", "")
			return nil
		}
		if len(fields) > 0 {
			if uerr := r.store.Update(ctx, rec.Type, liveID, fields); uerr != nil {
				r.record(st, outcomeFailed, types.ReasonValidation, uerr.Error())
				return nil
			}
		}
		r.record(st, outcomeUpdated, "", "")
		if len(st.selfLinks) > 0 {
			r.deferred = append(r.deferred, st)
		}
		return nil
	case errors.Is(err, storage.ErrNotFound):
		id, cerr := r.createRecord(ctx, rec, fields)
		if cerr != nil {
			r.record(st, outcomeFailed, types.ReasonValidation, cerr.Error())
			return nil
		}
		st.id = id
		r.res.Prime(rec.Type, key, id)
		r.record(st, outcomeCreated, "", "")
		if len(st.selfLinks) > 0 {
			r.deferred = append(r.deferred, st)
		}
		return nil
	default:
		return err
	}
}

// createRecord inserts the record, keeping its exported identity when
// that identity is still free so surrogate references from the same
// snapshot stay valid.
func (r *restorer) createRecord(ctx context.Context, rec *types.PortableRecord, fields map[string]any) (int64, error) {
	if rec.ID != nil {
		_, err := r.store.Get(ctx, rec.Type, *rec.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if err := r.store.CreateWithID(ctx, rec.Type, *rec.ID, fields); err != nil {
				return 0, err
			}
			return *rec.ID, nil
		case err != nil:
			return 0, err
		}
		// Identity occupied by a different entity; fall through to a
		// fresh one. In-operation references still resolve through the
		// primed cache.
	}
	return r.store.Create(ctx, rec.Type, fields)
}

func (r *restorer) applyManyToMany(ctx context.Context, st *recState) error {
	rec := st.rec
	if st.id < 0 || len(rec.ManyToMany) == 0 {
		return nil
	}
	switch r.events[st.eventIdx].outcome {
	case outcomeFailed, outcomeSkipped:
		return nil
	}
	d, err := r.reg.Get(rec.Type)
	if err != nil {
		return err
	}
	for field, keys := range rec.ManyToMany {
		target, ok := d.ManyToManyTarget(field)
		if !ok {
			r.demote(st, types.ReasonValidation,
				fmt.Sprintf("field %q is not a declared many-to-many field of %s", field, rec.Type))
			return nil
		}
		targets := make([]int64, 0, len(keys))
		for _, key := range keys {
			id, err := r.res.Resolve(ctx, target, key)
			if errors.Is(err, storage.ErrNotFound) {
				r.demote(st, types.ReasonUnresolvedReference,
					fmt.Sprintf("many-to-many %s -> %s %s not found", field, target, key.Display()))
				return nil
			}
			if err != nil {
				return err
			}
			targets = append(targets, id)
		}
		if err := r.store.SetManyToMany(ctx, rec.Type, st.id, field, targets); err != nil {
			return err
		}
	}
	return nil
}

func (r *restorer) applySelfLinks(ctx context.Context, st *recState) error {
	if r.events[st.eventIdx].outcome == outcomeFailed {
		return nil
	}
	rec := st.rec
	patch := make(map[string]any, len(st.selfLinks))
	for field, key := range st.selfLinks {
		id, err := r.res.Resolve(ctx, rec.Type, key)
		if errors.Is(err, storage.ErrNotFound) {
			r.demote(st, types.ReasonUnresolvedReference,
				fmt.Sprintf("self link %s -> %s %s not found", field, rec.Type, key.Display()))
			return nil
		}
		if err != nil {
			return err
		}
		patch[field] = id
	}
	return r.store.Update(ctx, rec.Type, st.id, patch)
}
