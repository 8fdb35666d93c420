// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/jamatthews/pgost/pkg/schema"
)

// ApplyStatements translates captured events, in order, into idempotent SQL
// against the shadow table. Every statement back-references the base table by
// primary key, so re-applying a statement reproduces the base table's current
// state rather than a stale captured payload.
func ApplyStatements(events []Event, table, shadowTable schema.Table, columnMap schema.ColumnMap, primaryKey schema.PrimaryKey) []string {
	mainCols := quoteAll(columnMap.MainCols())
	shadowCols := quoteAll(columnMap.ShadowCols())
	pkCol := pq.QuoteIdentifier(primaryKey.Name)

	statements := make([]string, 0, len(events))
	for _, event := range events {
		key := event.KeyLiteral()
		switch event.Kind {
		case KindInsert:
			// ON CONFLICT makes re-application a no-op and absorbs races
			// with backfill inserting the same key
			statements = append(statements, fmt.Sprintf(
				"INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = %s ON CONFLICT DO NOTHING",
				shadowTable.Quoted(), strings.Join(shadowCols, ", "),
				strings.Join(mainCols, ", "), table.Quoted(), pkCol, key))
		case KindUpdate:
			setClauses := make([]string, len(shadowCols))
			for i := range shadowCols {
				setClauses[i] = fmt.Sprintf("%s = (SELECT %s FROM %s WHERE %s = %s)",
					shadowCols[i], mainCols[i], table.Quoted(), pkCol, key)
			}
			statements = append(statements, fmt.Sprintf(
				"UPDATE %s SET %s WHERE %s = %s",
				shadowTable.Quoted(), strings.Join(setClauses, ", "), pkCol, key))
		case KindDelete:
			statements = append(statements, fmt.Sprintf(
				"DELETE FROM %s WHERE %s = %s",
				shadowTable.Quoted(), pkCol, key))
		}
	}
	return statements
}

func quoteAll(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return quoted
}
