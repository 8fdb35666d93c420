// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jamatthews/pgost/pkg/schema"
)

// Publication names the base table for logical decoding.
type Publication struct {
	Name  string
	Table schema.Table
}

// NewPublication creates a publication identity with a unique name.
func NewPublication(table schema.Table) *Publication {
	name := "ost_pub_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Publication{Name: name, Table: table}
}

// Create sets REPLICA IDENTITY FULL on the table and creates the publication.
func (p *Publication) Create(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s REPLICA IDENTITY FULL", p.Table.Quoted())); err != nil {
		return fmt.Errorf("setting replica identity on %s: %w", p.Table, err)
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", p.Name, p.Table.Quoted())); err != nil {
		return fmt.Errorf("creating publication %s: %w", p.Name, err)
	}
	return nil
}

// Drop removes the publication if it exists.
func (p *Publication) Drop(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("DROP PUBLICATION IF EXISTS %s", p.Name))
	return err
}
