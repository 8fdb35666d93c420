// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pglogrepl"
)

// DefaultPlugin is the logical decoding output plugin used for change capture.
const DefaultPlugin = "wal2json"

// Slot is a logical replication slot: a server-side cursor over the WAL.
type Slot struct {
	Name   string
	Plugin string
}

// NewSlot creates a slot identity with a unique name and the wal2json plugin.
func NewSlot() *Slot {
	name := "ost_slot_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Slot{Name: name, Plugin: DefaultPlugin}
}

// Create creates the replication slot on the server.
func (s *Slot) Create(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, "SELECT pg_create_logical_replication_slot($1, $2)", s.Name, s.Plugin); err != nil {
		return fmt.Errorf("creating replication slot %s: %w", s.Name, err)
	}
	return nil
}

// Drop removes the replication slot. The slot must have no active consumer.
func (s *Slot) Drop(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, "SELECT pg_drop_replication_slot($1)", s.Name)
	return err
}

// GetChanges consumes up to n pending changes from the slot and returns their
// plugin payloads. The slot's confirmed position advances past the returned
// changes.
func (s *Slot) GetChanges(ctx context.Context, q Querier, n int) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT data FROM pg_logical_slot_get_changes($1, NULL, $2)", s.Name, n)
	if err != nil {
		return nil, fmt.Errorf("consuming changes from slot %s: %w", s.Name, err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		payloads = append(payloads, data)
	}
	return payloads, rows.Err()
}

// ConfirmedFlushLSN reads the slot's confirmed flush position from the server.
func (s *Slot) ConfirmedFlushLSN(ctx context.Context, q Querier) (pglogrepl.LSN, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT confirmed_flush_lsn::text FROM pg_replication_slots WHERE slot_name = $1", s.Name)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, fmt.Errorf("replication slot %s not found", s.Name)
	}
	var lsnText string
	if err := rows.Scan(&lsnText); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	return pglogrepl.ParseLSN(lsnText)
}
