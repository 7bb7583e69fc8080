// Package types defines the portable record model shared by the
// exporter, conflict detector and restorer.
package types

import (
	"fmt"
)

// PortableRecord is the unit stored in a snapshot: one entity with all
// foreign-key and many-to-many references rewritten as keys.
type PortableRecord struct {
	Type string `json:"type"`

	// ID is the surrogate identity the entity had in the source store.
	// Always present on export so a target store can compare its own
	// identities against the snapshot's; required when NaturalKey is
	// empty because the record is then only addressable by identity.
	ID *int64 `json:"id,omitempty"`

	// NaturalKey holds the ordered natural-key values of the entity,
	// empty for types with no meaningful natural key.
	NaturalKey []any `json:"natural_key,omitempty"`

	// Fields holds the scalar field values, keyed by field name.
	Fields map[string]any `json:"fields"`

	// ForeignKeys maps each foreign-key field to the referenced
	// entity's key.
	ForeignKeys map[string]Key `json:"foreign_keys,omitempty"`

	// ManyToMany maps each many-to-many field to the ordered list of
	// referenced keys.
	ManyToMany map[string][]Key `json:"many_to_many,omitempty"`
}

// Key returns how this record itself should be addressed: its natural
// key when declared, otherwise its source surrogate identity.
func (r *PortableRecord) Key() Key {
	if len(r.NaturalKey) > 0 {
		return Key{Kind: KindTuple, Parts: r.NaturalKey}
	}
	if r.ID != nil {
		return SurrogateKey(*r.ID)
	}
	return Key{}
}

// Validate checks the structural invariants a record must satisfy
// before import is attempted.
func (r *PortableRecord) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("record has no type")
	}
	if len(r.NaturalKey) == 0 && r.ID == nil {
		return fmt.Errorf("record of type %s has neither natural key nor identity", r.Type)
	}
	return nil
}

// RemapEntry redirects a snapshot natural key to an entity that
// already exists in the target store under a different identity.
// Built once per restore, consulted read-only, then discarded.
type RemapEntry struct {
	Type      string
	SourceKey Key
	TargetID  int64
}

// Mode selects how the resolver treats reference types during restore.
type Mode string

const (
	// ModeNormal means no identity mismatches were detected.
	ModeNormal Mode = "normal"
	// ModeRemap means pre-existing reference entities carry different
	// identities than the snapshot and lookups must go through the
	// remap table first.
	ModeRemap Mode = "remap"
)
