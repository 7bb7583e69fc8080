package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/storage"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.EntityTypeDescriptor{
		{
			Name:         "role",
			Fields:       []string{"name", "level"},
			NaturalKey:   []string{"name"},
			AutoIdentity: true,
		},
		{
			Name:         "user",
			Fields:       []string{"username", "email", "created_at"},
			NaturalKey:   []string{"username"},
			ForeignKeys:  []registry.ForeignKeyField{{Field: "role", Target: "role"}},
			ManyToMany:   []registry.ManyToManyField{{Field: "groups", Target: "group"}},
			AutoIdentity: true,
		},
		{
			Name:         "group",
			Fields:       []string{"title"},
			AutoIdentity: true,
		},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"), testRegistry(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer", "level": int64(2)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero identity")
	}

	e, err := store.Get(ctx, "role", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Fields["name"] != "Reviewer" {
		t.Errorf("name = %v, want Reviewer", e.Fields["name"])
	}
	if e.Fields["level"] != int64(2) {
		t.Errorf("level = %v (%T), want 2", e.Fields["level"], e.Fields["level"])
	}

	if _, err := store.Get(ctx, "role", 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestFindByFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer", "level": int64(2)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "role", map[string]any{"name": "Admin", "level": int64(9)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := store.Find(ctx, "role", nil)
	if err != nil {
		t.Fatalf("Find all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Find all returned %d entities, want 2", len(all))
	}
	if all[0].ID >= all[1].ID {
		t.Error("Find results not ordered by identity")
	}

	byName, err := store.Find(ctx, "role", map[string]any{"name": "Admin"})
	if err != nil {
		t.Fatalf("Find filtered: %v", err)
	}
	if len(byName) != 1 || byName[0].Fields["name"] != "Admin" {
		t.Errorf("Find by name = %+v, want single Admin", byName)
	}

	if _, err := store.Find(ctx, "role", map[string]any{"bogus": 1}); err == nil {
		t.Error("Find with unknown field accepted")
	}
}

func TestNaturalKeyUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"}); err == nil {
		t.Error("duplicate natural key accepted; unique index missing")
	}
}

func TestUpdateWritesVerbatim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	roleID, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"})
	if err != nil {
		t.Fatalf("Create role: %v", err)
	}

	// Timestamps are plain field values: whatever is written must come
	// back unchanged, with no auto-now behavior anywhere in the store.
	created := "2021-03-04T05:06:07Z"
	userID, err := store.Create(ctx, "user", map[string]any{
		"username":   "alice",
		"email":      "alice@example.com",
		"created_at": created,
		"role":       roleID,
	})
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	e, err := store.Get(ctx, "user", userID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Fields["created_at"] != created {
		t.Errorf("created_at = %v, want %v written verbatim", e.Fields["created_at"], created)
	}

	if err := store.Update(ctx, "user", userID, map[string]any{"email": "a@example.com"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	e, err = store.Get(ctx, "user", userID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if e.Fields["email"] != "a@example.com" {
		t.Errorf("email = %v after update", e.Fields["email"])
	}
	if e.Fields["created_at"] != created {
		t.Errorf("created_at changed by unrelated update: %v", e.Fields["created_at"])
	}

	if err := store.Update(ctx, "user", 999, map[string]any{"email": "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
}

func TestManyToManyOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uid, err := store.Create(ctx, "user", map[string]any{"username": "alice"})
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	var groups []int64
	for _, title := range []string{"ops", "dev", "sec"} {
		gid, err := store.Create(ctx, "group", map[string]any{"title": title})
		if err != nil {
			t.Fatalf("Create group: %v", err)
		}
		groups = append(groups, gid)
	}

	// Deliberately non-sequential order; it must be preserved.
	want := []int64{groups[2], groups[0], groups[1]}
	if err := store.SetManyToMany(ctx, "user", uid, "groups", want); err != nil {
		t.Fatalf("SetManyToMany: %v", err)
	}
	got, err := store.ManyToMany(ctx, "user", uid, "groups")
	if err != nil {
		t.Fatalf("ManyToMany: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d links, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("link order = %v, want %v", got, want)
		}
	}

	// Replacing shrinks the set.
	if err := store.SetManyToMany(ctx, "user", uid, "groups", []int64{groups[1]}); err != nil {
		t.Fatalf("SetManyToMany replace: %v", err)
	}
	got, err = store.ManyToMany(ctx, "user", uid, "groups")
	if err != nil {
		t.Fatalf("ManyToMany: %v", err)
	}
	if len(got) != 1 || got[0] != groups[1] {
		t.Errorf("links after replace = %v, want [%d]", got, groups[1])
	}
}

func TestTransactRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Transact(ctx, func(tx storage.Store) error {
		if _, err := tx.Create(ctx, "role", map[string]any{"name": "Ghost"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transact error = %v, want boom", err)
	}

	found, err := store.Find(ctx, "role", map[string]any{"name": "Ghost"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 0 {
		t.Error("rolled-back write is visible")
	}
}

func TestTransactErrRollbackIsSilent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Transact(ctx, func(tx storage.Store) error {
		if _, err := tx.Create(ctx, "role", map[string]any{"name": "DryRun"}); err != nil {
			return err
		}
		return storage.ErrRollback
	})
	if err != nil {
		t.Fatalf("ErrRollback should not surface: %v", err)
	}

	found, err := store.Find(ctx, "role", map[string]any{"name": "DryRun"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 0 {
		t.Error("dry-run write is visible")
	}
}

func TestTransactCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Transact(ctx, func(tx storage.Store) error {
		_, err := tx.Create(ctx, "role", map[string]any{"name": "Kept"})
		return err
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	found, err := store.Find(ctx, "role", map[string]any{"name": "Kept"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 1 {
		t.Error("committed write not visible")
	}
}

func TestSequenceSafetyAfterExplicitIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Simulate a restore: explicit identities bypass the counter.
	if err := store.CreateWithID(ctx, "role", 40, map[string]any{"name": "Reviewer"}); err != nil {
		t.Fatalf("CreateWithID: %v", err)
	}
	if err := store.CreateWithID(ctx, "role", 41, map[string]any{"name": "Admin"}); err != nil {
		t.Fatalf("CreateWithID: %v", err)
	}

	max, err := store.MaxIdentity(ctx, "role")
	if err != nil {
		t.Fatalf("MaxIdentity: %v", err)
	}
	if max != 41 {
		t.Fatalf("MaxIdentity = %d, want 41", max)
	}

	if err := store.ResetIdentityCounter(ctx, "role", max+1); err != nil {
		t.Fatalf("ResetIdentityCounter: %v", err)
	}

	// The next organic create must not collide with restored rows.
	id, err := store.Create(ctx, "role", map[string]any{"name": "Fresh"})
	if err != nil {
		t.Fatalf("Create after reconcile: %v", err)
	}
	if id <= 41 {
		t.Errorf("new identity %d collides with restored range", id)
	}

	// Running reconciliation again is harmless.
	if err := store.ResetIdentityCounter(ctx, "role", max+1); err != nil {
		t.Fatalf("ResetIdentityCounter again: %v", err)
	}
}

func TestMaxIdentityEmptyType(t *testing.T) {
	store := newTestStore(t)
	max, err := store.MaxIdentity(context.Background(), "group")
	if err != nil {
		t.Fatalf("MaxIdentity: %v", err)
	}
	if max != 0 {
		t.Errorf("MaxIdentity of empty type = %d, want 0", max)
	}
}

func TestReopenExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	reg := testRegistry(t)
	ctx := context.Background()

	store, err := New(path, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := New(path, reg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()

	found, err := again.Find(ctx, "role", nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("reopened store has %d roles, want 1", len(found))
	}
}

func TestRejectsUnsafeIdentifiers(t *testing.T) {
	reg, err := registry.New([]registry.EntityTypeDescriptor{
		{Name: "bad name; DROP TABLE x", Fields: []string{"name"}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if _, err := New(filepath.Join(t.TempDir(), "test.db"), reg); err == nil {
		t.Error("unsafe type name accepted")
	}
}
