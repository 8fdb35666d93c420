// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/replication"
	"github.com/jamatthews/pgost/pkg/schema"
)

// streamPollTimeout bounds each batch pull from the replication stream.
const streamPollTimeout = 500 * time.Millisecond

// StreamingReplay captures mutations with a wal2json slot consumed over the
// streaming replication protocol. The slot's confirmed position advances via
// explicit standby status feedback after each applied batch.
type StreamingReplay struct {
	conn   db.DB
	stream *replication.Stream

	publication *replication.Publication
	slot        *replication.Slot

	table       schema.Table
	shadowTable schema.Table
	columnMap   schema.ColumnMap
	primaryKey  schema.PrimaryKey

	batchSize        int
	serverVersionNum int
	connStr          string
	logger           logrus.FieldLogger
}

var _ Replay = (*StreamingReplay)(nil)

// StreamingReplayConfig carries the run-wide context the stream needs: the
// user's connection string (re-used to open the replication connection) and
// the detected server version (for the WAL marker emitter).
type StreamingReplayConfig struct {
	ConnStr          string
	ServerVersionNum int
}

// NewStreamingReplay builds a streaming replay. The stream connects in Setup,
// after the slot exists.
func NewStreamingReplay(conn db.DB, logger logrus.FieldLogger, cfg StreamingReplayConfig, table, shadowTable schema.Table, columnMap schema.ColumnMap, primaryKey schema.PrimaryKey) *StreamingReplay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StreamingReplay{
		conn:             conn,
		publication:      replication.NewPublication(table),
		slot:             replication.NewSlot(),
		table:            table,
		shadowTable:      shadowTable,
		columnMap:        columnMap,
		primaryKey:       primaryKey,
		batchSize:        DefaultBatchSize,
		serverVersionNum: cfg.ServerVersionNum,
		logger:           logger,
		connStr:          cfg.ConnStr,
	}
}

// Setup creates the publication and slot, then opens the replication
// connection and starts streaming from the slot's initial position.
func (r *StreamingReplay) Setup(ctx context.Context) error {
	if err := r.publication.Create(ctx, r.conn); err != nil {
		return err
	}
	if err := r.slot.Create(ctx, r.conn); err != nil {
		return err
	}

	startLSN, err := r.slot.ConfirmedFlushLSN(ctx, r.conn)
	if err != nil {
		return err
	}

	stream, err := replication.NewStream(ctx, r.connStr, r.slot.Name, startLSN)
	if err != nil {
		return err
	}
	if err := stream.Start(ctx); err != nil {
		stream.Close(ctx)
		return err
	}

	r.stream = stream
	return nil
}

// ReplayLog pulls one batch of frames, applies the decoded changes and
// acknowledges the stream position.
func (r *StreamingReplay) ReplayLog(ctx context.Context) error {
	if _, err := r.replayBatch(ctx, r.conn); err != nil {
		return err
	}
	return r.stream.SendStandbyStatus(ctx, r.stream.LastLSN())
}

// ReplayLogUntilComplete emits the end-of-replay marker into the WAL and
// drains the stream into the given transaction until the marker decodes,
// which proves every change committed before the cutover lock has been
// applied.
func (r *StreamingReplay) ReplayLogUntilComplete(ctx context.Context, tx *sql.Tx) error {
	if err := replication.EmitReplayComplete(ctx, tx, r.serverVersionNum); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		marker, err := r.replayBatch(ctx, tx)
		if err != nil {
			return err
		}
		if marker {
			return r.stream.SendStandbyStatus(ctx, r.stream.LastLSN())
		}
	}
}

// Teardown closes the replication connection, then drops the publication and
// the slot. All three are attempted even if one fails.
func (r *StreamingReplay) Teardown(ctx context.Context, tx *sql.Tx) error {
	var errs []error
	if r.stream != nil {
		errs = append(errs, r.stream.Close(ctx))
	}
	errs = append(errs,
		r.publication.Drop(ctx, tx),
		r.slot.Drop(ctx, tx),
	)
	return errors.Join(errs...)
}

// replayBatch pulls and applies one batch of frames, reporting whether the
// end-of-replay marker was seen.
func (r *StreamingReplay) replayBatch(ctx context.Context, q replication.Querier) (bool, error) {
	messages, err := r.stream.NextBatch(ctx, r.batchSize, streamPollTimeout)
	if err != nil {
		return false, err
	}

	var events []Event
	var marker bool
	for _, msg := range messages {
		if msg.XLogData == nil {
			continue
		}
		batch, sawMarker, err := DecodeChanges(msg.XLogData.WALData)
		if err != nil {
			return false, err
		}
		events = append(events, batch...)
		marker = marker || sawMarker
	}

	for _, stmt := range ApplyStatements(events, r.table, r.shadowTable, r.columnMap, r.primaryKey) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return false, fmt.Errorf("applying captured event: %w", err)
		}
	}

	if len(events) > 0 {
		r.logger.WithField("events", len(events)).Debug("replayed stream batch")
	}
	return marker, nil
}
