// Package registry holds the static entity-type descriptor table that
// drives export, planning and restore. The table is constructed once
// and never mutated; components receive it at construction time.
package registry

import (
	"fmt"
	"sort"

	"github.com/grafton-io/grafton/internal/types"
)

// fallbackKeyFields is the conventional field search used when a
// descriptor declares no natural-key fields, in priority order.
var fallbackKeyFields = []string{"name", "code", "identifier", "title", "username"}

// ForeignKeyField describes a field holding a reference to another type.
type ForeignKeyField struct {
	Field  string `json:"field"`
	Target string `json:"target"`
}

// ManyToManyField describes a field holding an ordered set of
// references to another type.
type ManyToManyField struct {
	Field  string `json:"field"`
	Target string `json:"target"`
}

// EntityTypeDescriptor declares one entity type's schema: its scalar
// fields, its reference fields, and how an entity of the type is
// addressed by natural key.
type EntityTypeDescriptor struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`

	ForeignKeys []ForeignKeyField `json:"foreign_keys,omitempty"`
	ManyToMany  []ManyToManyField `json:"many_to_many,omitempty"`

	// NaturalKey lists the fields whose values uniquely identify an
	// entity of this type. Empty means: try the conventional fallback
	// fields, and fall back to surrogate identity if none is present.
	NaturalKey []string `json:"natural_key,omitempty"`

	// AutoIdentity marks types whose identities come from the store's
	// auto-increment counter; these participate in identity
	// reconciliation after restore.
	AutoIdentity bool `json:"auto_identity,omitempty"`
}

// KeyFields returns the effective natural-key fields for the
// descriptor: the declared ones, or the first conventional fallback
// field the type actually has. Returns nil when the type has no usable
// natural key and must be addressed by surrogate identity.
func (d *EntityTypeDescriptor) KeyFields() []string {
	if len(d.NaturalKey) > 0 {
		return d.NaturalKey
	}
	have := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		have[f] = true
	}
	for _, f := range fallbackKeyFields {
		if have[f] {
			return []string{f}
		}
	}
	return nil
}

// ForeignKeyTarget returns the target type of a declared foreign-key
// field, or false when the field is not a foreign key of this type.
func (d *EntityTypeDescriptor) ForeignKeyTarget(field string) (string, bool) {
	for _, fk := range d.ForeignKeys {
		if fk.Field == field {
			return fk.Target, true
		}
	}
	return "", false
}

// ManyToManyTarget returns the target type of a declared many-to-many
// field, or false when the field is not many-to-many on this type.
func (d *EntityTypeDescriptor) ManyToManyTarget(field string) (string, bool) {
	for _, m2m := range d.ManyToMany {
		if m2m.Field == field {
			return m2m.Target, true
		}
	}
	return "", false
}

// SelfReferential reports whether any foreign-key field of the type
// points back at the type itself.
func (d *EntityTypeDescriptor) SelfReferential() bool {
	for _, fk := range d.ForeignKeys {
		if fk.Target == d.Name {
			return true
		}
	}
	return false
}

// Validate checks internal consistency of a single descriptor.
func (d *EntityTypeDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has no type name")
	}
	have := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f == "" {
			return fmt.Errorf("type %s: empty field name", d.Name)
		}
		if have[f] {
			return fmt.Errorf("type %s: duplicate field %s", d.Name, f)
		}
		have[f] = true
	}
	for _, k := range d.NaturalKey {
		if !have[k] {
			return fmt.Errorf("type %s: natural-key field %s is not a declared field", d.Name, k)
		}
	}
	seen := make(map[string]bool)
	for _, fk := range d.ForeignKeys {
		if fk.Field == "" || fk.Target == "" {
			return fmt.Errorf("type %s: foreign key needs field and target", d.Name)
		}
		if have[fk.Field] {
			return fmt.Errorf("type %s: field %s is both scalar and foreign key", d.Name, fk.Field)
		}
		if seen[fk.Field] {
			return fmt.Errorf("type %s: duplicate reference field %s", d.Name, fk.Field)
		}
		seen[fk.Field] = true
	}
	for _, m2m := range d.ManyToMany {
		if m2m.Field == "" || m2m.Target == "" {
			return fmt.Errorf("type %s: many-to-many needs field and target", d.Name)
		}
		if have[m2m.Field] || seen[m2m.Field] {
			return fmt.Errorf("type %s: duplicate reference field %s", d.Name, m2m.Field)
		}
		seen[m2m.Field] = true
	}
	return nil
}

// UnknownTypeError is raised when a snapshot or caller names a type the
// registry does not know. Structural: the whole operation aborts.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown entity type: %s", e.Type)
}

// Registry is the immutable descriptor table.
type Registry struct {
	byName map[string]*EntityTypeDescriptor
	order  []string // registration order, for deterministic iteration
}

// New builds a registry from descriptors, validating each descriptor
// and every cross-type reference target.
func New(descriptors []EntityTypeDescriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*EntityTypeDescriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate entity type: %s", d.Name)
		}
		r.byName[d.Name] = &d
		r.order = append(r.order, d.Name)
	}
	for _, d := range r.byName {
		for _, fk := range d.ForeignKeys {
			if _, ok := r.byName[fk.Target]; !ok {
				return nil, fmt.Errorf("type %s: foreign key %s references %w",
					d.Name, fk.Field, &UnknownTypeError{Type: fk.Target})
			}
		}
		for _, m2m := range d.ManyToMany {
			if _, ok := r.byName[m2m.Target]; !ok {
				return nil, fmt.Errorf("type %s: many-to-many %s references %w",
					d.Name, m2m.Field, &UnknownTypeError{Type: m2m.Target})
			}
		}
	}
	return r, nil
}

// Get returns the descriptor for a type name.
func (r *Registry) Get(name string) (*EntityTypeDescriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, &UnknownTypeError{Type: name}
	}
	return d, nil
}

// Has reports whether the registry knows the type.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Types returns all type names in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// AutoIdentityTypes returns the names of types that participate in
// identity reconciliation, sorted for deterministic processing.
func (r *Registry) AutoIdentityTypes() []string {
	var out []string
	for name, d := range r.byName {
		if d.AutoIdentity {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// NaturalKeyOf extracts the natural-key values for an entity's fields,
// in key-field order. Returns nil when the type is addressed by
// surrogate identity only.
func (r *Registry) NaturalKeyOf(d *EntityTypeDescriptor, fields map[string]any) []any {
	kf := d.KeyFields()
	if len(kf) == 0 {
		return nil
	}
	parts := make([]any, len(kf))
	for i, f := range kf {
		parts[i] = fields[f]
	}
	return parts
}

// KeyFilter converts a natural-key tuple into a field filter for store
// lookups. Errors when the tuple arity does not match the descriptor.
func (r *Registry) KeyFilter(d *EntityTypeDescriptor, key types.Key) (map[string]any, error) {
	if key.Kind != types.KindTuple {
		return nil, fmt.Errorf("type %s: surrogate key cannot be converted to a field filter", d.Name)
	}
	kf := d.KeyFields()
	if len(kf) == 0 {
		return nil, fmt.Errorf("type %s has no natural-key fields", d.Name)
	}
	if len(key.Parts) != len(kf) {
		return nil, fmt.Errorf("type %s: natural key has %d parts, descriptor declares %d",
			d.Name, len(key.Parts), len(kf))
	}
	filter := make(map[string]any, len(kf))
	for i, f := range kf {
		filter[f] = key.Parts[i]
	}
	return filter, nil
}
