package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/grafton-io/grafton/internal/storage"
)

// Find returns entities matching the filter, ordered by identity.
// A nil or empty filter matches every entity of the type.
func (s *SQLiteStore) Find(ctx context.Context, typeName string, where map[string]any) ([]storage.Entity, error) {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return nil, err
	}

	cols := columnsOf(d)
	quoted := make([]string, 0, len(cols)+1)
	quoted = append(quoted, "id")
	for _, c := range cols {
		quoted = append(quoted, quoteIdent(c))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(d.Name))
	var args []any
	if len(where) > 0 {
		valid := make(map[string]bool, len(cols))
		for _, c := range cols {
			valid[c] = true
		}
		keys := make([]string, 0, len(where))
		for k := range where {
			if !valid[k] {
				return nil, fmt.Errorf("type %s has no field %s", typeName, k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var conds []string
		for _, k := range keys {
			v := where[k]
			if v == nil {
				conds = append(conds, fmt.Sprintf("%s IS NULL", quoteIdent(k)))
				continue
			}
			conds = append(conds, fmt.Sprintf("%s = ?", quoteIdent(k)))
			args = append(args, v)
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", typeName, err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Entity
	for rows.Next() {
		e, err := scanEntity(rows, cols)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", typeName, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", typeName, err)
	}
	return out, nil
}

// Get returns the entity with the given identity, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, typeName string, id int64) (*storage.Entity, error) {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return nil, err
	}

	cols := columnsOf(d)
	quoted := make([]string, 0, len(cols)+1)
	quoted = append(quoted, "id")
	for _, c := range cols {
		quoted = append(quoted, quoteIdent(c))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?",
		strings.Join(quoted, ", "), quoteIdent(d.Name))
	rows, err := s.q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", typeName, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read %s %d: %w", typeName, id, err)
		}
		return nil, storage.ErrNotFound
	}
	e, err := scanEntity(rows, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s %d: %w", typeName, id, err)
	}
	return &e, nil
}

// scanEntity reads one row: id column followed by cols in order.
func scanEntity(rows *sql.Rows, cols []string) (storage.Entity, error) {
	dest := make([]any, len(cols)+1)
	var id int64
	dest[0] = &id
	vals := make([]any, len(cols))
	for i := range vals {
		dest[i+1] = &vals[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return storage.Entity{}, err
	}

	fields := make(map[string]any, len(cols))
	for i, c := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		fields[c] = v
	}
	return storage.Entity{ID: id, Fields: fields}, nil
}

// Create inserts an entity and returns the assigned identity.
func (s *SQLiteStore) Create(ctx context.Context, typeName string, fields map[string]any) (int64, error) {
	query, args, err := s.insertStatement(typeName, nil, fields)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.q.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", typeName, err)
	}
	return id, nil
}

// CreateWithID inserts an entity under an explicit identity. The
// AUTOINCREMENT counter is left alone; identity reconciliation runs
// after restore to bring it past restored identities.
func (s *SQLiteStore) CreateWithID(ctx context.Context, typeName string, id int64, fields map[string]any) error {
	query, args, err := s.insertStatement(typeName, &id, fields)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create %s %d: %w", typeName, id, err)
	}
	return nil
}

// insertStatement builds the INSERT for a type, with or without an
// explicit identity. Unknown field names are rejected.
func (s *SQLiteStore) insertStatement(typeName string, id *int64, fields map[string]any) (string, []any, error) {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return "", nil, err
	}

	valid := make(map[string]bool)
	for _, c := range columnsOf(d) {
		valid[c] = true
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !valid[k] {
			return "", nil, fmt.Errorf("type %s has no field %s", typeName, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var cols []string
	var holes []string
	var args []any
	if id != nil {
		cols = append(cols, "id")
		holes = append(holes, "?")
		args = append(args, *id)
	}
	for _, k := range keys {
		cols = append(cols, quoteIdent(k))
		holes = append(holes, "?")
		args = append(args, fields[k])
	}

	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteIdent(d.Name)), nil, nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(d.Name), strings.Join(cols, ", "), strings.Join(holes, ", "))
	return query, args, nil
}

// Update overwrites the given fields of an existing entity.
func (s *SQLiteStore) Update(ctx context.Context, typeName string, id int64, fields map[string]any) error {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	valid := make(map[string]bool)
	for _, c := range columnsOf(d) {
		valid[c] = true
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !valid[k] {
			return fmt.Errorf("type %s has no field %s", typeName, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sets []string
	var args []any
	for _, k := range keys {
		sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent(k)))
		args = append(args, fields[k])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		quoteIdent(d.Name), strings.Join(sets, ", "))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", typeName, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of %s %d: %w", typeName, id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes an entity; join-table rows go with it via cascade.
func (s *SQLiteStore) Delete(ctx context.Context, typeName string, id int64) error {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(d.Name))
	res, err := s.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", typeName, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete of %s %d: %w", typeName, id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
