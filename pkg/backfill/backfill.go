// SPDX-License-Identifier: Apache-2.0

// Package backfill copies the existing rows of the base table into the shadow
// table in primary-key order.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/jamatthews/pgost/pkg/backfill/templates"
	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/schema"
)

const (
	DefaultBatchSize int           = 1000
	DefaultDelay     time.Duration = 0
)

// CallbackFn is invoked after each batch with the running total of copied rows.
type CallbackFn func(done int64)

// Strategy copies rows of the base table into the shadow table such that
// every row visible at some snapshot is present in the shadow by primary key
// once the strategy returns.
type Strategy interface {
	Start(ctx context.Context, table, shadowTable schema.Table, columnMap schema.ColumnMap, primaryKey schema.PrimaryKey) error
}

// Backfill copies rows in key-ordered batches. Rows whose primary key already
// exists on the shadow (written there by replay first) are skipped.
type Backfill struct {
	conn       db.DB
	batchSize  int
	batchDelay time.Duration
	callbacks  []CallbackFn
}

var _ Strategy = (*Backfill)(nil)

// New creates a new batched backfill with the given options. The backfill is
// not started until `Start` is invoked.
func New(conn db.DB, opts ...OptionFn) *Backfill {
	b := &Backfill{
		conn:      conn,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start copies the base table batch by batch until a batch selects no rows.
// The cursor is derived from a standalone key scan rather than from the
// insert's RETURNING clause, so it keeps advancing through key ranges whose
// rows were all copied by replay already.
func (bf *Backfill) Start(ctx context.Context, table, shadowTable schema.Table, columnMap schema.ColumnMap, primaryKey schema.PrimaryKey) error {
	cfg := templates.BatchConfig{
		Table:         table.Quoted(),
		ShadowTable:   shadowTable.Quoted(),
		PrimaryKey:    primaryKey.Name,
		MainColumns:   columnMap.MainCols(),
		ShadowColumns: columnMap.ShadowCols(),
		BatchSize:     bf.batchSize,
	}

	var done int64
	for {
		keys, err := bf.selectBatch(ctx, cfg)
		if err != nil {
			return fmt.Errorf("selecting backfill batch: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}

		cfg.Upper = keys[len(keys)-1]
		insert, err := templates.BuildInsertBatch(cfg)
		if err != nil {
			return err
		}
		if _, err := bf.conn.ExecContext(ctx, insert); err != nil {
			return fmt.Errorf("inserting backfill batch: %w", err)
		}

		cfg.HasLower = true
		cfg.Lower = cfg.Upper

		done += int64(len(keys))
		for _, cb := range bf.callbacks {
			cb(done)
		}

		if bf.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bf.batchDelay):
			}
		}
	}
}

func (bf *Backfill) selectBatch(ctx context.Context, cfg templates.BatchConfig) ([]int64, error) {
	query, err := templates.BuildSelectBatch(cfg)
	if err != nil {
		return nil, err
	}

	rows, err := bf.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []int64
	for rows.Next() {
		var key int64
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
