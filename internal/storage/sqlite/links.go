package sqlite

import (
	"context"
	"fmt"

	"github.com/grafton-io/grafton/internal/registry"
)

func (s *SQLiteStore) m2mField(typeName, field string) (*registry.EntityTypeDescriptor, error) {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return nil, err
	}
	for _, m2m := range d.ManyToMany {
		if m2m.Field == field {
			return d, nil
		}
	}
	return nil, fmt.Errorf("type %s has no many-to-many field %s", typeName, field)
}

// ManyToMany returns the ordered target identities linked through the
// given field.
func (s *SQLiteStore) ManyToMany(ctx context.Context, typeName string, id int64, field string) ([]int64, error) {
	d, err := s.m2mField(typeName, field)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT target_id FROM %s WHERE source_id = ? ORDER BY pos",
		quoteIdent(linkTable(d.Name, field)))
	rows, err := s.q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query links %s.%s: %w", typeName, field, err)
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var target int64
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("failed to scan link %s.%s: %w", typeName, field, err)
		}
		out = append(out, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate links %s.%s: %w", typeName, field, err)
	}
	return out, nil
}

// SetManyToMany replaces the link set of a field, preserving target
// order through the pos column.
func (s *SQLiteStore) SetManyToMany(ctx context.Context, typeName string, id int64, field string, targets []int64) error {
	d, err := s.m2mField(typeName, field)
	if err != nil {
		return err
	}
	table := quoteIdent(linkTable(d.Name, field))

	if _, err := s.q.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE source_id = ?", table), id); err != nil {
		return fmt.Errorf("failed to clear links %s.%s: %w", typeName, field, err)
	}
	for pos, target := range targets {
		if _, err := s.q.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (source_id, target_id, pos) VALUES (?, ?, ?)", table),
			id, target, pos); err != nil {
			return fmt.Errorf("failed to link %s.%s %d -> %d: %w", typeName, field, id, target, err)
		}
	}
	return nil
}
