// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/replay/templates"
	"github.com/jamatthews/pgost/pkg/schema"
)

// triggerOps are the captured operations and the trigger row variable each
// one reads the primary key from.
var triggerOps = []struct {
	op     Kind
	rowVar string
}{
	{KindInsert, "NEW"},
	{KindUpdate, "NEW"},
	{KindDelete, "OLD"},
}

// TriggerReplay captures mutations with AFTER ROW triggers writing (op, pk)
// records into a log table, and replays them by draining the log table in
// sequence order.
type TriggerReplay struct {
	conn db.DB

	table       schema.Table
	shadowTable schema.Table
	logTable    schema.Table
	columnMap   schema.ColumnMap
	primaryKey  schema.PrimaryKey

	batchSize int
	logger    logrus.FieldLogger
}

var _ Replay = (*TriggerReplay)(nil)

func NewTriggerReplay(conn db.DB, logger logrus.FieldLogger, table, shadowTable, logTable schema.Table, columnMap schema.ColumnMap, primaryKey schema.PrimaryKey) *TriggerReplay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TriggerReplay{
		conn:        conn,
		table:       table,
		shadowTable: shadowTable,
		logTable:    logTable,
		columnMap:   columnMap,
		primaryKey:  primaryKey,
		batchSize:   DefaultBatchSize,
		logger:      logger,
	}
}

// Setup creates the log table and one AFTER ROW trigger per operation.
// Setup is idempotent.
func (r *TriggerReplay) Setup(ctx context.Context) error {
	createLogTable, err := templates.BuildCreateLogTable(templates.LogTableConfig{
		Table:    r.table.Quoted(),
		LogTable: r.logTable.Quoted(),
	})
	if err != nil {
		return err
	}
	if _, err := r.conn.ExecContext(ctx, createLogTable); err != nil {
		return fmt.Errorf("creating log table %s: %w", r.logTable, err)
	}

	for _, t := range triggerOps {
		trigger, err := templates.BuildLogTrigger(templates.TriggerConfig{
			Table:      r.table.Quoted(),
			LogTable:   r.logTable.Quoted(),
			Function:   r.functionName(t.op),
			Trigger:    r.triggerName(t.op),
			PrimaryKey: r.primaryKey.Name,
			Op:         string(t.op),
			RowVar:     t.rowVar,
		})
		if err != nil {
			return err
		}
		if _, err := r.conn.ExecContext(ctx, trigger); err != nil {
			return fmt.Errorf("creating %s trigger on %s: %w", t.op, r.table, err)
		}
	}

	return nil
}

// ReplayLog removes one batch from the log table and applies it, all in a
// single transaction. If any apply statement fails, the transaction rolls
// back and the batch stays in the log for the next poll.
func (r *TriggerReplay) ReplayLog(ctx context.Context) error {
	return r.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := r.replayBatch(ctx, tx)
		return err
	})
}

// ReplayLogUntilComplete drains the log table to empty inside the given
// transaction.
func (r *TriggerReplay) ReplayLogUntilComplete(ctx context.Context, tx *sql.Tx) error {
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

// Teardown drops the triggers, their functions and the log table.
func (r *TriggerReplay) Teardown(ctx context.Context, tx *sql.Tx) error {
	triggers := make([]string, 0, len(triggerOps))
	functions := make([]string, 0, len(triggerOps))
	for _, t := range triggerOps {
		triggers = append(triggers, r.triggerName(t.op))
		functions = append(functions, r.functionName(t.op))
	}

	drop, err := templates.BuildDropCapture(templates.DropConfig{
		Table:     r.table.Quoted(),
		LogTable:  r.logTable.Quoted(),
		Triggers:  triggers,
		Functions: functions,
	})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("dropping capture structures for %s: %w", r.table, err)
	}
	return nil
}

// replayBatch atomically removes up to batchSize log rows in seq order and
// applies them, returning the number of rows consumed.
func (r *TriggerReplay) replayBatch(ctx context.Context, tx *sql.Tx) (int, error) {
	events, err := r.fetchBatch(ctx, tx)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, stmt := range ApplyStatements(events, r.table, r.shadowTable, r.columnMap, r.primaryKey) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("applying captured event: %w", err)
		}
	}

	r.logger.WithField("events", len(events)).Debug("replayed log batch")
	return len(events), nil
}

func (r *TriggerReplay) fetchBatch(ctx context.Context, tx *sql.Tx) ([]Event, error) {
	query := fmt.Sprintf(
		"DELETE FROM %[1]s WHERE seq IN (SELECT seq FROM %[1]s ORDER BY seq ASC LIMIT $1) RETURNING seq, op, %[2]s",
		r.logTable.Quoted(), pq.QuoteIdentifier(r.primaryKey.Name))

	rows, err := tx.QueryContext(ctx, query, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetching log batch: %w", err)
	}
	defer rows.Close()

	type seqEvent struct {
		seq   int64
		event Event
	}
	var batch []seqEvent
	for rows.Next() {
		var (
			seq int64
			op  string
			key int64
		)
		if err := rows.Scan(&seq, &op, &key); err != nil {
			return nil, err
		}
		batch = append(batch, seqEvent{seq: seq, event: Event{Kind: Kind(op), Key: key}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DELETE ... RETURNING does not promise row order
	sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })

	events := make([]Event, len(batch))
	for i, b := range batch {
		events[i] = b.event
	}
	return events, nil
}

func (r *TriggerReplay) functionName(op Kind) string {
	name := fmt.Sprintf("%s_%s_fn", r.logTable.Name, strings.ToLower(string(op)))
	return pq.QuoteIdentifier(r.logTable.SchemaOrDefault()) + "." + pq.QuoteIdentifier(name)
}

func (r *TriggerReplay) triggerName(op Kind) string {
	return fmt.Sprintf("%s_ost_%s", r.table.Name, strings.ToLower(string(op)))
}
