// SPDX-License-Identifier: Apache-2.0

package orchestrator_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamatthews/pgost/internal/testutils"
	"github.com/jamatthews/pgost/pkg/orchestrator"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func seedTestTable(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec("CREATE TABLE test_table (id BIGSERIAL PRIMARY KEY, assertable TEXT, target TEXT)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO test_table (assertable, target) VALUES ('expect_backfilled', 't')")
	require.NoError(t, err)
}

func columnNames(t *testing.T, conn *sql.DB, schemaName, tableName string) []string {
	t.Helper()
	rows, err := conn.Query(
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		schemaName, tableName)
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		require.NoError(t, rows.Scan(&c))
		cols = append(cols, c)
	}
	require.NoError(t, rows.Err())
	return cols
}

func TestMigrateAddColumnExecute(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		seedTestTable(t, conn)

		o, err := orchestrator.New(ctx, connStr)
		require.NoError(t, err)
		defer o.Close()

		err = o.Migrate(ctx, "ALTER TABLE test_table ADD COLUMN bar TEXT", true, orchestrator.StrategyTriggers)
		require.NoError(t, err)

		// the promoted table carries the new column with NULLs
		assert.Equal(t, []string{"id", "assertable", "target", "bar"},
			columnNames(t, conn, "public", "test_table"))

		var assertable string
		var bar sql.NullString
		require.NoError(t, conn.QueryRow("SELECT assertable, bar FROM test_table WHERE id = 1").
			Scan(&assertable, &bar))
		assert.Equal(t, "expect_backfilled", assertable)
		assert.False(t, bar.Valid)

		// the original is parked with its pre-migration shape
		assert.Equal(t, []string{"id", "assertable", "target"},
			columnNames(t, conn, "post_migrations_old", "test_table"))
	})
}

func TestMigrateDropColumnExecute(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		seedTestTable(t, conn)

		o, err := orchestrator.New(ctx, connStr)
		require.NoError(t, err)
		defer o.Close()

		err = o.Migrate(ctx, "ALTER TABLE test_table DROP COLUMN target", true, orchestrator.StrategyTriggers)
		require.NoError(t, err)

		assert.Equal(t, []string{"id", "assertable"}, columnNames(t, conn, "public", "test_table"))

		_, err = conn.Query("SELECT target FROM test_table")
		assert.Error(t, err)
	})
}

func TestMigrateRenameColumnExecute(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		seedTestTable(t, conn)

		o, err := orchestrator.New(ctx, connStr)
		require.NoError(t, err)
		defer o.Close()

		err = o.Migrate(ctx, "ALTER TABLE test_table RENAME COLUMN target TO something_else", true, orchestrator.StrategyTriggers)
		require.NoError(t, err)

		assert.Equal(t, []string{"id", "assertable", "something_else"},
			columnNames(t, conn, "public", "test_table"))

		var renamed string
		require.NoError(t, conn.QueryRow("SELECT something_else FROM test_table WHERE id = 1").Scan(&renamed))
		assert.Equal(t, "t", renamed)
	})
}

func TestMigrateDryRunLeavesTableUntouched(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		seedTestTable(t, conn)

		o, err := orchestrator.New(ctx, connStr)
		require.NoError(t, err)
		defer o.Close()

		err = o.Migrate(ctx, "ALTER TABLE test_table ADD COLUMN bar TEXT", false, orchestrator.StrategyTriggers)
		require.NoError(t, err)

		// the live table still has its original shape and row
		assert.Equal(t, []string{"id", "assertable", "target"},
			columnNames(t, conn, "public", "test_table"))

		var count int
		require.NoError(t, conn.QueryRow("SELECT count(*) FROM test_table").Scan(&count))
		assert.Equal(t, 1, count)

		// no shadow or log tables remain
		require.NoError(t, conn.QueryRow(
			`SELECT count(*) FROM information_schema.tables WHERE table_schema = 'post_migrations'`).
			Scan(&count))
		assert.Equal(t, 0, count)
	})
}

func TestMigratePartitionedRebuildExecute(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		seedTestTable(t, conn)

		o, err := orchestrator.New(ctx, connStr)
		require.NoError(t, err)
		defer o.Close()

		ddl := `DROP TABLE test_table;
			CREATE TABLE test_table (id BIGSERIAL PRIMARY KEY, assertable TEXT, target TEXT) PARTITION BY HASH (id);
			CREATE TABLE test_table_p0 PARTITION OF test_table FOR VALUES WITH (MODULUS 2, REMAINDER 0);
			CREATE TABLE test_table_p1 PARTITION OF test_table FOR VALUES WITH (MODULUS 2, REMAINDER 1);`

		err = o.Migrate(ctx, ddl, true, orchestrator.StrategyTriggers)
		require.NoError(t, err)

		// the promoted table is partitioned and holds the backfilled row
		var partitioned bool
		require.NoError(t, conn.QueryRow(
			`SELECT relkind = 'p' FROM pg_class
			 WHERE oid = 'public.test_table'::regclass`).
			Scan(&partitioned))
		assert.True(t, partitioned)

		var assertable string
		require.NoError(t, conn.QueryRow("SELECT assertable FROM test_table WHERE id = 1").Scan(&assertable))
		assert.Equal(t, "expect_backfilled", assertable)
	})
}

func TestMigrateLogicalStrategyExecute(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()

		if !wal2jsonAvailable(t, conn) {
			t.Skip("wal2json output plugin not installed")
		}

		seedTestTable(t, conn)

		o, err := orchestrator.New(ctx, connStr)
		require.NoError(t, err)
		defer o.Close()

		err = o.Migrate(ctx, "ALTER TABLE test_table ADD COLUMN bar TEXT", true, orchestrator.StrategyLogical)
		require.NoError(t, err)

		assert.Contains(t, columnNames(t, conn, "public", "test_table"), "bar")
	})
}

// wal2jsonAvailable probes for the wal2json output plugin by creating and
// dropping a throwaway slot.
func wal2jsonAvailable(t *testing.T, conn *sql.DB) bool {
	t.Helper()
	if _, err := conn.Exec("SELECT pg_create_logical_replication_slot('wal2json_probe', 'wal2json')"); err != nil {
		return false
	}
	_, err := conn.Exec("SELECT pg_drop_replication_slot('wal2json_probe')")
	require.NoError(t, err)
	return true
}
