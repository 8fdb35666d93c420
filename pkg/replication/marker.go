// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"fmt"
)

const (
	// MessagePrefix tags the WAL messages this tool emits.
	MessagePrefix = "postgres-ost"

	// ReplayCompleteBody marks the point in the WAL at which cutover replay
	// is complete.
	ReplayCompleteBody = "replay complete"

	// flushArgVersionNum is the first server version accepting the flush
	// argument to pg_logical_emit_message.
	flushArgVersionNum = 170000
)

// EmitReplayComplete writes the end-of-replay marker into the WAL via
// pg_logical_emit_message. The message is non-transactional so it decodes
// immediately, even when emitted inside the cutover transaction. Servers
// below 17 do not accept the trailing flush argument.
func EmitReplayComplete(ctx context.Context, q Querier, serverVersionNum int) error {
	var sql string
	if serverVersionNum >= flushArgVersionNum {
		sql = "SELECT pg_logical_emit_message(false, $1, $2, true)"
	} else {
		sql = "SELECT pg_logical_emit_message(false, $1, $2)"
	}

	if _, err := q.ExecContext(ctx, sql, MessagePrefix, ReplayCompleteBody); err != nil {
		return fmt.Errorf("emitting replay-complete marker: %w", err)
	}
	return nil
}
