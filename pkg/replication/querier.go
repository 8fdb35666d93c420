// SPDX-License-Identifier: Apache-2.0

// Package replication manages the logical-replication primitives used for
// change capture: publications, slots and the streaming replication protocol.
package replication

import (
	"context"
	"database/sql"
)

// Querier is the subset of SQL execution needed by publications and slots.
// Both db.DB and *sql.Tx satisfy it, so the same operations work inside the
// cutover transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}
