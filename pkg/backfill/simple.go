// SPDX-License-Identifier: Apache-2.0

package backfill

import (
	"context"
	"fmt"

	"github.com/jamatthews/pgost/pkg/backfill/templates"
	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/schema"
)

// Simple copies the whole base table with a single INSERT ... SELECT. Useful
// for small tables; the orchestrator always uses the batched strategy.
type Simple struct {
	conn db.DB
}

var _ Strategy = (*Simple)(nil)

func NewSimple(conn db.DB) *Simple {
	return &Simple{conn: conn}
}

func (s *Simple) Start(ctx context.Context, table, shadowTable schema.Table, columnMap schema.ColumnMap, primaryKey schema.PrimaryKey) error {
	insert, err := templates.BuildInsertAll(templates.BatchConfig{
		Table:         table.Quoted(),
		ShadowTable:   shadowTable.Quoted(),
		MainColumns:   columnMap.MainCols(),
		ShadowColumns: columnMap.ShadowCols(),
	})
	if err != nil {
		return err
	}

	if _, err := s.conn.ExecContext(ctx, insert); err != nil {
		return fmt.Errorf("backfilling %s: %w", shadowTable, err)
	}
	return nil
}
