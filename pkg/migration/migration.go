// SPDX-License-Identifier: Apache-2.0

// Package migration derives the set of relations involved in an online schema
// change from the user's DDL and manages the shadow table's lifecycle.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/schema"
	"github.com/jamatthews/pgost/pkg/sql2shadow"
)

const (
	// ShadowSchema holds the shadow and log tables while a migration runs.
	ShadowSchema = "post_migrations"

	// OldSchema is the parking schema for the swapped-out original table.
	OldSchema = "post_migrations_old"
)

// ErrUnsupportedMigration is returned when the DDL does not reference exactly
// one base table.
var ErrUnsupportedMigration = errors.New("unsupported migration")

// Migration captures everything derived from the user's DDL at construction
// time: the base table, the shadow/log/old table identities, the rewritten
// DDL and the base table's primary key.
type Migration struct {
	SQL       string
	ShadowDDL string

	Table       schema.Table
	ShadowTable schema.Table
	LogTable    schema.Table
	OldTable    schema.Table

	PrimaryKey schema.PrimaryKey
}

// New parses the DDL, identifies the base table and introspects its primary
// key. Fails with ErrUnsupportedMigration if the DDL references zero or
// multiple base tables and with schema.ErrUnsupportedPrimaryKey if the table
// has no single integer primary key.
func New(ctx context.Context, ddl string, conn db.DB) (*Migration, error) {
	tableName, err := sql2shadow.ExtractMainTable(ddl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMigration, err)
	}

	table := schema.NewTable(tableName)
	shadowTable := schema.Table{Schema: ShadowSchema, Name: table.Name}

	shadowDDL, err := sql2shadow.RewriteForShadow(ddl, table.Name, shadowTable)
	if err != nil {
		return nil, fmt.Errorf("rewriting DDL for shadow table: %w", err)
	}

	primaryKey, err := table.GetPrimaryKey(ctx, conn)
	if err != nil {
		return nil, err
	}

	return &Migration{
		SQL:         ddl,
		ShadowDDL:   shadowDDL,
		Table:       table,
		ShadowTable: shadowTable,
		LogTable:    schema.Table{Schema: ShadowSchema, Name: table.Name + "_log"},
		OldTable:    schema.Table{Schema: OldSchema, Name: table.Name},
		PrimaryKey:  primaryKey,
	}, nil
}

// EnsureSchemas creates the working schemas if they do not exist.
func (m *Migration) EnsureSchemas(ctx context.Context, conn db.DB) error {
	for _, s := range []string{ShadowSchema, OldSchema} {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s)); err != nil {
			return fmt.Errorf("creating schema %s: %w", s, err)
		}
	}
	return nil
}

// DropShadowTable removes the shadow table and any partitions attached to it.
func (m *Migration) DropShadowTable(ctx context.Context, conn db.DB) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", m.ShadowTable.Quoted()))
	return err
}

// CreateShadowTable creates the shadow table with the same shape as the base
// table, including defaults, constraints and indexes.
func (m *Migration) CreateShadowTable(ctx context.Context, conn db.DB) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (LIKE %s INCLUDING ALL)",
		m.ShadowTable.Quoted(), m.Table.Quoted()))
	return err
}

// ApplyShadowDDL executes the rewritten DDL against the shadow table. The
// script may contain several statements; it is executed as a single batch.
func (m *Migration) ApplyShadowDDL(ctx context.Context, conn db.DB) error {
	if _, err := conn.ExecContext(ctx, m.ShadowDDL); err != nil {
		return fmt.Errorf("applying DDL to shadow table: %w", err)
	}
	return nil
}

// ColumnMap introspects both tables and computes the column correspondence.
func (m *Migration) ColumnMap(ctx context.Context, conn db.DB) (schema.ColumnMap, error) {
	mainCols, err := m.Table.GetColumns(ctx, conn)
	if err != nil {
		return schema.ColumnMap{}, err
	}
	shadowCols, err := m.ShadowTable.GetColumns(ctx, conn)
	if err != nil {
		return schema.ColumnMap{}, err
	}
	return schema.NewColumnMap(mainCols, shadowCols), nil
}

// LockTable acquires a write-blocking lock on the base table for the duration
// of the cutover transaction.
func (m *Migration) LockTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", m.Table.Quoted()))
	return err
}

// Swap moves the base table into the parking schema and the shadow table into
// the base table's place. Row identity is preserved and the old table stays
// addressable for rollback.
func (m *Migration) Swap(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s SET SCHEMA %s",
		m.Table.Quoted(), OldSchema)); err != nil {
		return fmt.Errorf("parking %s: %w", m.Table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s SET SCHEMA %s",
		m.ShadowTable.Quoted(), m.Table.SchemaOrDefault())); err != nil {
		return fmt.Errorf("promoting %s: %w", m.ShadowTable, err)
	}
	return nil
}
