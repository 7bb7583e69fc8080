package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/storage"
	"github.com/grafton-io/grafton/internal/storage/memory"
	"github.com/grafton-io/grafton/internal/types"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.EntityTypeDescriptor{
		{Name: "role", Fields: []string{"name"}, NaturalKey: []string{"name"}},
		{Name: "tenant", Fields: []string{"org", "slug"}, NaturalKey: []string{"org", "slug"}},
		{Name: "audit_event", Fields: []string{"action"}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestResolveByNaturalKey(t *testing.T) {
	reg := testRegistry(t)
	store := memory.New()
	ctx := context.Background()

	id, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := New(reg, store)
	got, err := r.Resolve(ctx, "role", types.TupleKey("Reviewer"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != id {
		t.Errorf("Resolve = %d, want %d", got, id)
	}

	if _, err := r.Resolve(ctx, "role", types.TupleKey("Missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Resolve missing = %v, want ErrNotFound", err)
	}
}

func TestResolveCompositeKey(t *testing.T) {
	reg := testRegistry(t)
	store := memory.New()
	ctx := context.Background()

	id, err := store.Create(ctx, "tenant", map[string]any{"org": "acme", "slug": "billing"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "tenant", map[string]any{"org": "acme", "slug": "crm"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := New(reg, store)
	got, err := r.Resolve(ctx, "tenant", types.TupleKey("acme", "billing"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != id {
		t.Errorf("Resolve = %d, want %d", got, id)
	}
}

func TestResolveCachesLookups(t *testing.T) {
	reg := testRegistry(t)
	store := memory.New()
	ctx := context.Background()

	id, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := New(reg, store)
	if _, err := r.Resolve(ctx, "role", types.TupleKey("Reviewer")); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Deleting behind the cache: a second resolve must still hit.
	if err := store.Delete(ctx, "role", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := r.Resolve(ctx, "role", types.TupleKey("Reviewer"))
	if err != nil {
		t.Fatalf("cached Resolve: %v", err)
	}
	if got != id {
		t.Errorf("cached Resolve = %d, want %d", got, id)
	}

	r.Forget("role", types.TupleKey("Reviewer"))
	if _, err := r.Resolve(ctx, "role", types.TupleKey("Reviewer")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Resolve after Forget = %v, want ErrNotFound", err)
	}
}

func TestResolveConsultsRemapFirst(t *testing.T) {
	reg := testRegistry(t)
	store := memory.New()
	ctx := context.Background()

	// A live Reviewer exists under id 1, but the remap table redirects
	// the snapshot's Reviewer key elsewhere; remap must win.
	if _, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := New(reg, store)
	r.UseRemap([]types.RemapEntry{
		{Type: "role", SourceKey: types.TupleKey("Reviewer"), TargetID: 77},
	})
	got, err := r.Resolve(ctx, "role", types.TupleKey("Reviewer"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != 77 {
		t.Errorf("Resolve = %d, want remapped 77", got)
	}
}

func TestResolveSurrogate(t *testing.T) {
	reg := testRegistry(t)
	store := memory.New()
	ctx := context.Background()

	if err := store.CreateWithID(ctx, "audit_event", 12, map[string]any{"action": "login"}); err != nil {
		t.Fatalf("CreateWithID: %v", err)
	}

	r := New(reg, store)
	got, err := r.Resolve(ctx, "audit_event", types.SurrogateKey(12))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != 12 {
		t.Errorf("Resolve = %d, want 12", got)
	}

	if _, err := r.Resolve(ctx, "audit_event", types.SurrogateKey(99)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Resolve missing surrogate = %v, want ErrNotFound", err)
	}
}

func TestResolveAmbiguousKey(t *testing.T) {
	reg := testRegistry(t)
	store := memory.New()
	ctx := context.Background()

	// The memory store does not enforce natural-key uniqueness, which
	// is exactly the integrity violation the resolver must surface.
	if _, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "role", map[string]any{"name": "Reviewer"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := New(reg, store)
	_, err := r.Resolve(ctx, "role", types.TupleKey("Reviewer"))
	var ambiguous *AmbiguousKeyError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("Resolve = %v, want AmbiguousKeyError", err)
	}
	if ambiguous.Matches != 2 {
		t.Errorf("Matches = %d, want 2", ambiguous.Matches)
	}
}

func TestPrime(t *testing.T) {
	reg := testRegistry(t)
	store := memory.New()
	ctx := context.Background()

	r := New(reg, store)
	r.Prime("role", types.TupleKey("Reviewer"), 5)
	got, err := r.Resolve(ctx, "role", types.TupleKey("Reviewer"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != 5 {
		t.Errorf("Resolve = %d, want primed 5", got)
	}
}
