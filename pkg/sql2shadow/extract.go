// SPDX-License-Identifier: Apache-2.0

// Package sql2shadow rewrites user-supplied DDL so that it targets the shadow
// copy of the table being migrated instead of the live table.
package sql2shadow

import (
	"errors"
	"fmt"
	"slices"

	pgq "github.com/pganalyze/pg_query_go/v6"
)

var (
	// ErrNoMainTable indicates that no supported DDL statement in the script
	// references a base table.
	ErrNoMainTable = errors.New("no DDL statement references a base table")

	// ErrMultipleTables indicates that the script references more than one
	// distinct base table.
	ErrMultipleTables = errors.New("DDL references multiple base tables")
)

// ExtractMainTable returns the single base table referenced by the DDL
// script. Partition children created with `PARTITION OF` count as references
// to their parent, not as base tables of their own.
func ExtractMainTable(sql string) (string, error) {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return "", fmt.Errorf("parse error: %w", err)
	}

	var tables []string
	collect := func(name string) {
		if name != "" && !slices.Contains(tables, name) {
			tables = append(tables, name)
		}
	}

	for _, stmt := range tree.GetStmts() {
		switch node := stmt.GetStmt().GetNode().(type) {
		case *pgq.Node_AlterTableStmt:
			collect(node.AlterTableStmt.GetRelation().GetRelname())
		case *pgq.Node_RenameStmt:
			collect(node.RenameStmt.GetRelation().GetRelname())
		case *pgq.Node_DropStmt:
			if node.DropStmt.GetRemoveType() != pgq.ObjectType_OBJECT_TABLE {
				continue
			}
			for _, obj := range node.DropStmt.GetObjects() {
				collect(relationNameFromQualifiedName(obj))
			}
		case *pgq.Node_CreateStmt:
			create := node.CreateStmt
			if create.GetPartbound() != nil {
				// a partition child references its parent
				for _, inh := range create.GetInhRelations() {
					collect(inh.GetRangeVar().GetRelname())
				}
				continue
			}
			collect(create.GetRelation().GetRelname())
		}
	}

	switch len(tables) {
	case 0:
		return "", ErrNoMainTable
	case 1:
		return tables[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrMultipleTables, tables)
	}
}

// relationNameFromQualifiedName returns the relation name of a qualified name
// node, i.e. the last String item of its List.
func relationNameFromQualifiedName(obj *pgq.Node) string {
	items := obj.GetList().GetItems()
	if len(items) == 0 {
		return ""
	}
	return items[len(items)-1].GetString_().GetSval()
}
