// SPDX-License-Identifier: Apache-2.0

// Package replay consumes captured mutations of the base table and applies
// them to the shadow table. Three interchangeable capture sources exist:
// a trigger-fed log table, a polled logical decoding slot and a streamed
// logical decoding slot.
package replay

import (
	"context"
	"database/sql"
	"strconv"
)

// DefaultBatchSize is the maximum number of captured events consumed per
// replay batch.
const DefaultBatchSize = 100

// Replay is the capture-independent contract the orchestrator drives.
type Replay interface {
	// Setup creates the capture structures (log table and triggers, or
	// publication and slot).
	Setup(ctx context.Context) error

	// ReplayLog consumes and applies a single batch of captured events. It
	// returns once the batch is applied, even if more events are pending.
	ReplayLog(ctx context.Context) error

	// ReplayLogUntilComplete drains captured events inside the given
	// transaction until the capture reports an empty batch. Used during
	// cutover while the base table is locked.
	ReplayLogUntilComplete(ctx context.Context, tx *sql.Tx) error

	// Teardown removes the capture structures inside the given transaction.
	Teardown(ctx context.Context, tx *sql.Tx) error
}

// Kind is the type of a captured mutation.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Event is one captured mutation: the operation and the primary key of the
// affected row. Column values are never carried; the apply statements re-read
// them from the base table.
type Event struct {
	Kind Kind
	Key  int64
}

// KeyLiteral renders the primary key as a SQL literal.
func (e Event) KeyLiteral() string {
	return strconv.FormatInt(e.Key, 10)
}
