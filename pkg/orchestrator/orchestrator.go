// SPDX-License-Identifier: Apache-2.0

// Package orchestrator sequences an online schema migration: shadow table
// setup, concurrent backfill and replay, and the final cutover transaction.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jamatthews/pgost/pkg/backfill"
	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/migration"
	"github.com/jamatthews/pgost/pkg/replay"
	"github.com/jamatthews/pgost/pkg/schema"
)

// Strategy selects the change-capture engine.
type Strategy string

const (
	StrategyTriggers  Strategy = "triggers"
	StrategyLogical   Strategy = "logical"
	StrategyStreaming Strategy = "streaming"
)

// ParseStrategy validates a strategy name from the CLI.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyTriggers, StrategyLogical, StrategyStreaming:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown capture strategy %q", s)
}

// replayPollInterval is the sleep between replay polls while backfill runs.
const replayPollInterval = 200 * time.Millisecond

// Orchestrator owns the connection pool and the run-wide context (connection
// string, server version) for one or more migrations.
type Orchestrator struct {
	conn             db.DB
	connStr          string
	serverVersionNum int

	logger            logrus.FieldLogger
	backfillBatchSize int
	backfillCallbacks []backfill.CallbackFn
}

// New connects to the database and detects the server version.
func New(ctx context.Context, pgURL string, opts ...Option) (*Orchestrator, error) {
	conn, err := db.Open(ctx, pgURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	versionNum, err := db.ServerVersionNum(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("detecting server version: %w", err)
	}

	o := &Orchestrator{
		conn:              conn,
		connStr:           pgURL,
		serverVersionNum:  versionNum,
		logger:            logrus.StandardLogger(),
		backfillBatchSize: backfill.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) Close() error {
	return o.conn.Close()
}

// Conn exposes the orchestrator's pooled connection.
func (o *Orchestrator) Conn() db.DB {
	return o.conn
}

// ServerVersionNum is the detected server version, e.g. 170002.
func (o *Orchestrator) ServerVersionNum() int {
	return o.serverVersionNum
}

// Migrate runs a full migration for the given DDL. Without execute, the
// shadow table is built, backfilled and replayed, then torn down again,
// leaving the database as it was. With execute, the run finishes with the
// cutover transaction swapping the shadow table into place.
func (o *Orchestrator) Migrate(ctx context.Context, ddl string, execute bool, strategy Strategy) error {
	m, err := migration.New(ctx, ddl, o.conn)
	if err != nil {
		return err
	}

	rep, err := o.setup(ctx, m, strategy)
	if err != nil {
		return err
	}

	if err := o.runWorkers(ctx, m, rep); err != nil {
		o.cleanup(ctx, m, rep)
		return err
	}

	if !execute {
		if err := o.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return rep.Teardown(ctx, tx)
		}); err != nil {
			return fmt.Errorf("tearing down capture: %w", err)
		}
		return m.DropShadowTable(ctx, o.conn)
	}

	return o.cutover(ctx, m, rep)
}

// ReplayOnly performs schema setup and replays captured changes until the
// context is cancelled. The capture structures are left in place.
func (o *Orchestrator) ReplayOnly(ctx context.Context, ddl string, strategy Strategy) error {
	m, err := migration.New(ctx, ddl, o.conn)
	if err != nil {
		return err
	}

	rep, err := o.setup(ctx, m, strategy)
	if err != nil {
		return err
	}

	o.logger.WithField("table", m.Table.String()).Info("replaying until interrupted")
	for {
		if err := rep.ReplayLog(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.WithError(err).Warn("replay batch failed; retrying")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(replayPollInterval):
		}
	}
}

// setup builds the shadow table, applies the rewritten DDL and installs the
// capture structures. On capture setup failure the partial setup is removed.
func (o *Orchestrator) setup(ctx context.Context, m *migration.Migration, strategy Strategy) (replay.Replay, error) {
	if err := m.EnsureSchemas(ctx, o.conn); err != nil {
		return nil, err
	}
	if err := m.DropShadowTable(ctx, o.conn); err != nil {
		return nil, err
	}
	if err := m.CreateShadowTable(ctx, o.conn); err != nil {
		return nil, err
	}
	if err := m.ApplyShadowDDL(ctx, o.conn); err != nil {
		o.dropShadowQuietly(ctx, m)
		return nil, err
	}

	columnMap, err := m.ColumnMap(ctx, o.conn)
	if err != nil {
		o.dropShadowQuietly(ctx, m)
		return nil, err
	}

	rep := o.buildReplay(m, columnMap, strategy)
	if err := rep.Setup(ctx); err != nil {
		o.cleanup(ctx, m, rep)
		return nil, fmt.Errorf("setting up change capture: %w", err)
	}

	return rep, nil
}

func (o *Orchestrator) buildReplay(m *migration.Migration, columnMap schema.ColumnMap, strategy Strategy) replay.Replay {
	switch strategy {
	case StrategyLogical:
		return replay.NewLogicalReplay(o.conn, o.logger, m.Table, m.ShadowTable, columnMap, m.PrimaryKey)
	case StrategyStreaming:
		return replay.NewStreamingReplay(o.conn, o.logger, replay.StreamingReplayConfig{
			ConnStr:          o.connStr,
			ServerVersionNum: o.serverVersionNum,
		}, m.Table, m.ShadowTable, columnMap, m.PrimaryKey)
	default:
		return replay.NewTriggerReplay(o.conn, o.logger, m.Table, m.ShadowTable, m.LogTable, columnMap, m.PrimaryKey)
	}
}

// runWorkers drains historical rows and captured mutations concurrently: the
// backfill worker copies key-ordered batches while the replay worker polls
// the capture source. When backfill completes, the replay worker is stopped
// at its next poll boundary.
func (o *Orchestrator) runWorkers(ctx context.Context, m *migration.Migration, rep replay.Replay) error {
	columnMap, err := m.ColumnMap(ctx, o.conn)
	if err != nil {
		return err
	}

	var stopReplay atomic.Bool
	replayDone := make(chan struct{})
	go func() {
		defer close(replayDone)
		for !stopReplay.Load() {
			if err := rep.ReplayLog(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.WithError(err).Warn("replay batch failed; retrying")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(replayPollInterval):
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bf := backfill.New(o.conn,
			backfill.WithBatchSize(o.backfillBatchSize),
			backfill.WithCallbacks(o.backfillCallbacks...))
		return bf.Start(gctx, m.Table, m.ShadowTable, columnMap, m.PrimaryKey)
	})

	err = g.Wait()
	stopReplay.Store(true)
	<-replayDone

	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	return ctx.Err()
}

// cutover performs the final transaction: lock the base table, drain the
// remaining captured events, dismantle capture and swap the tables. Any
// failure aborts the transaction and leaves the base table untouched.
func (o *Orchestrator) cutover(ctx context.Context, m *migration.Migration, rep replay.Replay) error {
	err := o.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := m.LockTable(ctx, tx); err != nil {
			return err
		}
		if err := rep.ReplayLogUntilComplete(ctx, tx); err != nil {
			return err
		}
		if err := rep.Teardown(ctx, tx); err != nil {
			return err
		}
		return m.Swap(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("cutover failed, original table left in place: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"table": m.Table.String(),
		"old":   m.OldTable.String(),
	}).Info("migration complete")
	return nil
}

// cleanup removes the shadow table and capture structures on a best-effort
// basis after a failed run.
func (o *Orchestrator) cleanup(ctx context.Context, m *migration.Migration, rep replay.Replay) {
	if rep != nil {
		if err := o.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return rep.Teardown(ctx, tx)
		}); err != nil {
			o.logger.WithError(err).Warn("failed to tear down capture structures")
		}
	}
	o.dropShadowQuietly(ctx, m)
}

func (o *Orchestrator) dropShadowQuietly(ctx context.Context, m *migration.Migration) {
	if err := m.DropShadowTable(ctx, o.conn); err != nil {
		o.logger.WithError(err).Warn("failed to drop shadow table")
	}
}
