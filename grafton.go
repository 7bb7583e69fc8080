// Package grafton provides a minimal public API for embedding the
// backup/restore engine in other Go programs.
//
// The engine is store-agnostic: anything implementing Store can be a
// snapshot source or target. The bundled SQLite backend covers the
// common case; the CLI under cmd/grafton wraps these calls.
package grafton

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/grafton-io/grafton/internal/conflict"
	"github.com/grafton-io/grafton/internal/export"
	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/restore"
	"github.com/grafton-io/grafton/internal/snapshot"
	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/storage/sqlite"
	"github.com/grafton-io/grafton/internal/types"
)

// Core types for working with snapshots
type (
	PortableRecord       = types.PortableRecord
	RestoreReport        = types.RestoreReport
	RemapEntry           = types.RemapEntry
	Registry             = registry.Registry
	EntityTypeDescriptor = registry.EntityTypeDescriptor
	ForeignKeyField      = registry.ForeignKeyField
	ManyToManyField      = registry.ManyToManyField
)

// Storage interface the engine runs against
type Store = storage.Store

// NewRegistry builds a validated entity-type registry from
// descriptors. Every component takes the registry at construction;
// there is no global type state.
func NewRegistry(descriptors []EntityTypeDescriptor) (*Registry, error) {
	return registry.New(descriptors)
}

// NewSQLiteStore opens (or creates) a SQLite database whose schema is
// generated from the registry.
func NewSQLiteStore(dbPath string, reg *Registry) (Store, error) {
	return sqlite.New(dbPath, reg)
}

// ExportSnapshot serializes the store's full object graph, in
// dependency order, as a JSONL snapshot. Read-only.
func ExportSnapshot(ctx context.Context, reg *Registry, store Store) ([]byte, error) {
	records, err := export.Export(ctx, reg, store)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := snapshot.Write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RestoreSnapshot writes a snapshot into the store. referenceTypes
// names the types that may legitimately pre-exist in a reset target
// (role definitions and the like); matching entities are remapped
// instead of duplicated. The report covers every record, failed ones
// included.
func RestoreSnapshot(ctx context.Context, reg *Registry, store Store, data []byte, referenceTypes []string) (*RestoreReport, error) {
	return restoreSnapshot(ctx, reg, store, data, referenceTypes, false)
}

// DryRunRestore runs the identical restore logic inside a transaction
// that is always rolled back. Used to preview failures before
// committing.
func DryRunRestore(ctx context.Context, reg *Registry, store Store, data []byte, referenceTypes []string) (*RestoreReport, error) {
	return restoreSnapshot(ctx, reg, store, data, referenceTypes, true)
}

func restoreSnapshot(ctx context.Context, reg *Registry, store Store, data []byte, referenceTypes []string, dryRun bool) (*RestoreReport, error) {
	records, err := snapshot.Read(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	refSet := make(map[string]bool, len(referenceTypes))
	for _, t := range referenceTypes {
		refSet[t] = true
	}
	entries, mode, err := conflict.Detect(ctx, reg, store, records, refSet)
	if err != nil {
		return nil, err
	}

	return restore.Restore(ctx, reg, store, records, restore.Options{
		Mode:   mode,
		Remap:  entries,
		DryRun: dryRun,
	})
}

// FindDatabasePath discovers the grafton database path using the
// standard search order:
//  1. $GRAFTON_DB environment variable
//  2. .grafton/*.db in current directory or ancestors
//
// Returns empty string if nothing is found.
func FindDatabasePath() string {
	if envDB := os.Getenv("GRAFTON_DB"); envDB != "" {
		return envDB
	}
	return findDatabaseInTree()
}

// findDatabaseInTree walks up the directory tree looking for
// .grafton/*.db
func findDatabaseInTree() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		graftonDir := filepath.Join(dir, ".grafton")
		if info, err := os.Stat(graftonDir); err == nil && info.IsDir() {
			matches, err := filepath.Glob(filepath.Join(graftonDir, "*.db"))
			if err == nil && len(matches) > 0 {
				return matches[0]
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
