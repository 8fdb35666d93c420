// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/replication"
	"github.com/jamatthews/pgost/pkg/schema"
)

// LogicalReplay captures mutations with a wal2json logical decoding slot and
// polls it with pg_logical_slot_get_changes. The server advances the slot
// past every returned change, so a batch is only consumed once its applies
// have run.
type LogicalReplay struct {
	conn db.DB

	publication *replication.Publication
	slot        *replication.Slot

	table       schema.Table
	shadowTable schema.Table
	columnMap   schema.ColumnMap
	primaryKey  schema.PrimaryKey

	batchSize int
	logger    logrus.FieldLogger
}

var _ Replay = (*LogicalReplay)(nil)

func NewLogicalReplay(conn db.DB, logger logrus.FieldLogger, table, shadowTable schema.Table, columnMap schema.ColumnMap, primaryKey schema.PrimaryKey) *LogicalReplay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogicalReplay{
		conn:        conn,
		publication: replication.NewPublication(table),
		slot:        replication.NewSlot(),
		table:       table,
		shadowTable: shadowTable,
		columnMap:   columnMap,
		primaryKey:  primaryKey,
		batchSize:   DefaultBatchSize,
		logger:      logger,
	}
}

// Setup creates the publication and the replication slot.
func (r *LogicalReplay) Setup(ctx context.Context) error {
	if err := r.publication.Create(ctx, r.conn); err != nil {
		return err
	}
	return r.slot.Create(ctx, r.conn)
}

// ReplayLog consumes one batch from the slot and applies it sequentially.
func (r *LogicalReplay) ReplayLog(ctx context.Context) error {
	_, err := r.replayBatch(ctx, r.conn)
	return err
}

// ReplayLogUntilComplete drains the slot to empty inside the given
// transaction.
func (r *LogicalReplay) ReplayLogUntilComplete(ctx context.Context, tx *sql.Tx) error {
	for {
		n, err := r.replayBatch(ctx, tx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Teardown drops the publication and the slot. Both drops are attempted even
// if one fails.
func (r *LogicalReplay) Teardown(ctx context.Context, tx *sql.Tx) error {
	return errors.Join(
		r.publication.Drop(ctx, tx),
		r.slot.Drop(ctx, tx),
	)
}

func (r *LogicalReplay) replayBatch(ctx context.Context, q replication.Querier) (int, error) {
	payloads, err := r.slot.GetChanges(ctx, q, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(payloads) == 0 {
		return 0, nil
	}

	var events []Event
	for _, payload := range payloads {
		batch, _, err := DecodeChanges([]byte(payload))
		if err != nil {
			return 0, err
		}
		events = append(events, batch...)
	}

	for _, stmt := range ApplyStatements(events, r.table, r.shadowTable, r.columnMap, r.primaryKey) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("applying captured event: %w", err)
		}
	}

	r.logger.WithField("events", len(events)).Debug("replayed slot batch")
	return len(payloads), nil
}
