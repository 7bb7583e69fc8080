package sqlite

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/grafton-io/grafton/internal/registry"
)

// identRe restricts table and column names derived from the registry.
// Identifiers are interpolated into DDL and queries, so anything
// outside this set is rejected at open time.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validIdent(name string) bool {
	return identRe.MatchString(name) && name != "id"
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// validateRegistryIdentifiers checks every type, field and reference
// name against the identifier rules before any SQL is generated.
func validateRegistryIdentifiers(reg *registry.Registry) error {
	for _, name := range reg.Types() {
		if !identRe.MatchString(name) {
			return fmt.Errorf("entity type name %q is not a valid identifier", name)
		}
		d, err := reg.Get(name)
		if err != nil {
			return err
		}
		for _, f := range d.Fields {
			if !validIdent(f) {
				return fmt.Errorf("type %s: field name %q is not a valid identifier", name, f)
			}
		}
		for _, fk := range d.ForeignKeys {
			if !validIdent(fk.Field) {
				return fmt.Errorf("type %s: foreign-key field %q is not a valid identifier", name, fk.Field)
			}
		}
		for _, m2m := range d.ManyToMany {
			if !validIdent(m2m.Field) {
				return fmt.Errorf("type %s: many-to-many field %q is not a valid identifier", name, m2m.Field)
			}
		}
	}
	return nil
}

// linkTable names the join table backing a many-to-many field.
func linkTable(typeName, field string) string {
	return typeName + "__" + field
}

// initSchema creates the per-type tables, join tables and natural-key
// unique indexes. All statements are IF NOT EXISTS so reopening an
// existing database is a no-op.
func initSchema(db *sql.DB, reg *registry.Registry) error {
	for _, name := range reg.Types() {
		d, err := reg.Get(name)
		if err != nil {
			return err
		}

		var cols []string
		cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
		for _, f := range d.Fields {
			cols = append(cols, quoteIdent(f))
		}
		for _, fk := range d.ForeignKeys {
			cols = append(cols, fmt.Sprintf("%s INTEGER REFERENCES %s(id)",
				quoteIdent(fk.Field), quoteIdent(fk.Target)))
		}

		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
			quoteIdent(d.Name), strings.Join(cols, ",\n\t"))
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", d.Name, err)
		}

		// Natural keys must be unique at the store level for the
		// resolver's single-match guarantee to hold.
		if kf := d.KeyFields(); len(kf) > 0 {
			quoted := make([]string, len(kf))
			for i, f := range kf {
				quoted[i] = quoteIdent(f)
			}
			idx := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				quoteIdent("idx_"+d.Name+"_natural_key"),
				quoteIdent(d.Name), strings.Join(quoted, ", "))
			if _, err := db.Exec(idx); err != nil {
				return fmt.Errorf("failed to create natural-key index for %s: %w", d.Name, err)
			}
		}

		for _, m2m := range d.ManyToMany {
			join := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	source_id INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	target_id INTEGER NOT NULL REFERENCES %s(id),
	pos INTEGER NOT NULL,
	PRIMARY KEY (source_id, pos)
)`,
				quoteIdent(linkTable(d.Name, m2m.Field)),
				quoteIdent(d.Name), quoteIdent(m2m.Target))
			if _, err := db.Exec(join); err != nil {
				return fmt.Errorf("failed to create join table for %s.%s: %w", d.Name, m2m.Field, err)
			}
		}
	}
	return nil
}

// columnsOf returns all writable columns of a type, scalar fields
// first then foreign keys, in descriptor order.
func columnsOf(d *registry.EntityTypeDescriptor) []string {
	cols := make([]string, 0, len(d.Fields)+len(d.ForeignKeys))
	cols = append(cols, d.Fields...)
	for _, fk := range d.ForeignKeys {
		cols = append(cols, fk.Field)
	}
	return cols
}
