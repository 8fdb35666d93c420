// SPDX-License-Identifier: Apache-2.0

package sql2shadow

import (
	"fmt"

	pgq "github.com/pganalyze/pg_query_go/v6"

	"github.com/jamatthews/pgost/pkg/schema"
)

// RewriteForShadow rewrites every reference to the base table in the DDL
// script so that it targets the shadow table instead, including the PARTITION
// OF target of partition children. Other relations, such as partition children
// named after the base table, keep their names, and statements that do not
// reference the base table pass through unchanged. The rewritten script is
// re-serialised from the AST.
func RewriteForShadow(sql, mainTable string, shadow schema.Table) (string, error) {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return "", fmt.Errorf("parse error: %w", err)
	}

	for _, stmt := range tree.GetStmts() {
		switch node := stmt.GetStmt().GetNode().(type) {
		case *pgq.Node_AlterTableStmt:
			rewriteRangeVar(node.AlterTableStmt.GetRelation(), mainTable, shadow)
		case *pgq.Node_RenameStmt:
			rewriteRangeVar(node.RenameStmt.GetRelation(), mainTable, shadow)
		case *pgq.Node_DropStmt:
			if node.DropStmt.GetRemoveType() != pgq.ObjectType_OBJECT_TABLE {
				continue
			}
			for i, obj := range node.DropStmt.GetObjects() {
				if refersToBaseTable(obj, mainTable) {
					node.DropStmt.Objects[i] = makeQualifiedName(shadow)
				}
			}
		case *pgq.Node_CreateStmt:
			create := node.CreateStmt
			rewriteRangeVar(create.GetRelation(), mainTable, shadow)
			for _, inh := range create.GetInhRelations() {
				rewriteRangeVar(inh.GetRangeVar(), mainTable, shadow)
			}
		}
	}

	deparsed, err := pgq.Deparse(tree)
	if err != nil {
		return "", fmt.Errorf("deparse error: %w", err)
	}
	return deparsed, nil
}

// rewriteRangeVar retargets the relation at the shadow table when it names
// the base table in the public (or unqualified) schema.
func rewriteRangeVar(rv *pgq.RangeVar, mainTable string, shadow schema.Table) {
	if rv == nil || rv.Relname != mainTable {
		return
	}
	if rv.Schemaname != "" && rv.Schemaname != schema.DefaultSchema {
		return
	}
	rv.Schemaname = shadow.SchemaOrDefault()
	rv.Relname = shadow.Name
}

func refersToBaseTable(obj *pgq.Node, mainTable string) bool {
	items := obj.GetList().GetItems()
	switch len(items) {
	case 1:
		return items[0].GetString_().GetSval() == mainTable
	case 2:
		return items[0].GetString_().GetSval() == schema.DefaultSchema &&
			items[1].GetString_().GetSval() == mainTable
	}
	return false
}

func makeQualifiedName(table schema.Table) *pgq.Node {
	return &pgq.Node{Node: &pgq.Node_List{List: &pgq.List{Items: []*pgq.Node{
		makeStringNode(table.SchemaOrDefault()),
		makeStringNode(table.Name),
	}}}}
}

func makeStringNode(s string) *pgq.Node {
	return &pgq.Node{Node: &pgq.Node_String_{String_: &pgq.String{Sval: s}}}
}
