// SPDX-License-Identifier: Apache-2.0

package templates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamatthews/pgost/pkg/backfill/templates"
)

func TestBuildSelectBatch(t *testing.T) {
	t.Parallel()

	cfg := templates.BatchConfig{
		Table:      `"public"."test_table"`,
		PrimaryKey: "id",
		BatchSize:  1000,
	}

	first, err := templates.BuildSelectBatch(cfg)
	require.NoError(t, err)
	assert.NotContains(t, first, "WHERE")
	assert.Contains(t, first, `ORDER BY "id" ASC`)
	assert.Contains(t, first, "LIMIT 1000")

	cfg.HasLower = true
	cfg.Lower = 42
	rest, err := templates.BuildSelectBatch(cfg)
	require.NoError(t, err)
	assert.Contains(t, rest, `WHERE "id" > 42`)
}

func TestBuildInsertBatch(t *testing.T) {
	t.Parallel()

	cfg := templates.BatchConfig{
		Table:         `"public"."test_table"`,
		ShadowTable:   `"post_migrations"."test_table"`,
		PrimaryKey:    "id",
		MainColumns:   []string{"id", "target"},
		ShadowColumns: []string{"id", "something_else"},
		HasLower:      true,
		Lower:         10,
		Upper:         20,
	}

	got, err := templates.BuildInsertBatch(cfg)
	require.NoError(t, err)

	assert.Contains(t, got, `INSERT INTO "post_migrations"."test_table"`)
	assert.Contains(t, got, `("id", "something_else")`)
	assert.Contains(t, got, `SELECT "id", "target"`)
	assert.Contains(t, got, `WHERE "id" > 10 AND "id" <= 20`)
	assert.Contains(t, got, "ON CONFLICT DO NOTHING")
}

func TestBuildInsertBatchFirstBatchHasNoLowerBound(t *testing.T) {
	t.Parallel()

	got, err := templates.BuildInsertBatch(templates.BatchConfig{
		Table:         `"public"."t"`,
		ShadowTable:   `"post_migrations"."t"`,
		PrimaryKey:    "id",
		MainColumns:   []string{"id"},
		ShadowColumns: []string{"id"},
		Upper:         5,
	})
	require.NoError(t, err)

	assert.Contains(t, got, `WHERE "id" <= 5`)
	assert.NotContains(t, got, ">")
}
