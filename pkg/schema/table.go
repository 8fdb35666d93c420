// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/jamatthews/pgost/pkg/db"
)

// DefaultSchema is the schema an unqualified table name resolves to.
const DefaultSchema = "public"

// ErrUnsupportedPrimaryKey is returned when a table has no primary key, a
// composite primary key, or a primary key that is not a 4-byte or 8-byte
// signed integer.
var ErrUnsupportedPrimaryKey = errors.New("table must have a single integer or bigint primary key column")

// PrimaryKeyType is the column type of a supported primary key.
type PrimaryKeyType int

const (
	PrimaryKeyInt32 PrimaryKeyType = iota
	PrimaryKeyInt64
)

func (t PrimaryKeyType) String() string {
	switch t {
	case PrimaryKeyInt32:
		return "integer"
	case PrimaryKeyInt64:
		return "bigint"
	}
	return "unknown"
}

// PrimaryKey describes the single-column primary key of a table.
type PrimaryKey struct {
	Name string
	Type PrimaryKeyType
}

// Table identifies a relation by schema and name. A zero Schema means the
// public schema.
type Table struct {
	Schema string
	Name   string
}

// NewTable parses an optionally schema-qualified relation name.
func NewTable(qualified string) Table {
	if schema, name, ok := strings.Cut(qualified, "."); ok {
		return Table{Schema: schema, Name: name}
	}
	return Table{Name: qualified}
}

// String renders the identifier in `schema.name` form for display and for
// regclass lookups.
func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Quoted renders the identifier quoted and schema-qualified for use in SQL.
func (t Table) Quoted() string {
	if t.Schema == "" {
		return pq.QuoteIdentifier(t.Name)
	}
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

// SchemaOrDefault returns the table's schema, defaulting to public.
func (t Table) SchemaOrDefault() string {
	if t.Schema == "" {
		return DefaultSchema
	}
	return t.Schema
}

// GetPrimaryKey looks up the table's primary key column in the system
// catalogues. Tables without a primary key, with a composite key, or with a
// non-integer key are rejected with ErrUnsupportedPrimaryKey.
func (t Table) GetPrimaryKey(ctx context.Context, conn db.DB) (PrimaryKey, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT a.attname, a.atttypid::regtype::text
		 FROM pg_index i
		 JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		 WHERE i.indrelid = $1::text::regclass AND i.indisprimary`,
		t.String())
	if err != nil {
		return PrimaryKey{}, fmt.Errorf("querying primary key of %s: %w", t, err)
	}
	defer rows.Close()

	var keys []PrimaryKey
	for rows.Next() {
		var name, typeName string
		if err := rows.Scan(&name, &typeName); err != nil {
			return PrimaryKey{}, err
		}

		var pkType PrimaryKeyType
		switch typeName {
		case "integer":
			pkType = PrimaryKeyInt32
		case "bigint":
			pkType = PrimaryKeyInt64
		default:
			return PrimaryKey{}, fmt.Errorf("%w: %s.%s has type %s", ErrUnsupportedPrimaryKey, t, name, typeName)
		}
		keys = append(keys, PrimaryKey{Name: name, Type: pkType})
	}
	if err := rows.Err(); err != nil {
		return PrimaryKey{}, err
	}

	switch len(keys) {
	case 0:
		return PrimaryKey{}, fmt.Errorf("%w: %s has no primary key", ErrUnsupportedPrimaryKey, t)
	case 1:
		return keys[0], nil
	default:
		return PrimaryKey{}, fmt.Errorf("%w: %s has a composite primary key", ErrUnsupportedPrimaryKey, t)
	}
}

// GetColumns returns the table's column names in ordinal position order.
func (t Table) GetColumns(ctx context.Context, conn db.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		t.SchemaOrDefault(), t.Name)
	if err != nil {
		return nil, fmt.Errorf("querying columns of %s: %w", t, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}

	return columns, rows.Err()
}
