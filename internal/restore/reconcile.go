package restore

import (
	"context"
	"fmt"

	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/storage"
)

// Reconcile realigns the store's identity counters with the data.
// Restoring entities under explicit identities bypasses the counter,
// so without this step the next organically created entity could
// collide with a restored one.
//
// Failures are reported as warnings rather than errors: a counter that
// could not be reset does not invalidate already-imported data.
// Idempotent and safe to run even when no restore occurred.
func Reconcile(ctx context.Context, store storage.Store, reg *registry.Registry) []string {
	var warnings []string
	for _, typeName := range reg.AutoIdentityTypes() {
		max, err := store.MaxIdentity(ctx, typeName)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sequence reset failed for %s: %v", typeName, err))
			continue
		}
		if err := store.ResetIdentityCounter(ctx, typeName, max+1); err != nil {
			warnings = append(warnings, fmt.Sprintf("sequence reset failed for %s: %v", typeName, err))
		}
	}
	return warnings
}
