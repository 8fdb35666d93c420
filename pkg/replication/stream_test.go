// SPDX-License-Identifier: Apache-2.0

package replication_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamatthews/pgost/internal/testutils"
	"github.com/jamatthews/pgost/pkg/db"
	"github.com/jamatthews/pgost/pkg/replication"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

// setupStream creates a test_decoding slot and a started stream on it. The
// test_decoding plugin ships with every postgres build, unlike wal2json.
func setupStream(t *testing.T, conn *sql.DB, connStr string) *replication.Stream {
	t.Helper()
	ctx := context.Background()

	_, err := conn.Exec("CREATE TABLE test_table (id BIGSERIAL PRIMARY KEY, assertable TEXT, target TEXT)")
	require.NoError(t, err)

	slot := &replication.Slot{Name: "stream_test_slot", Plugin: "test_decoding"}
	require.NoError(t, slot.Create(ctx, &db.RDB{DB: conn}))

	stream, err := replication.NewStream(ctx, connStr, slot.Name, 0)
	require.NoError(t, err)
	t.Cleanup(func() { stream.Close(ctx) })

	require.NoError(t, stream.Start(ctx))
	return stream
}

// pollForXLogData pulls batches until an XLogData frame whose payload
// contains all needles arrives, or attempts run out.
func pollForXLogData(t *testing.T, stream *replication.Stream, needles ...string) bool {
	t.Helper()
	ctx := context.Background()

	for attempt := 0; attempt < 50; attempt++ {
		messages, err := stream.NextBatch(ctx, 10, 100*time.Millisecond)
		require.NoError(t, err)

		for _, msg := range messages {
			if msg.XLogData == nil {
				continue
			}
			body := string(msg.XLogData.WALData)
			found := true
			for _, needle := range needles {
				if !strings.Contains(body, needle) {
					found = false
					break
				}
			}
			if found {
				return true
			}
		}
	}
	return false
}

func TestStreamReceivesXLogData(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		stream := setupStream(t, conn, connStr)

		_, err := conn.Exec("INSERT INTO test_table (assertable, target) VALUES ('foo', 'bar')")
		require.NoError(t, err)

		found := pollForXLogData(t, stream, "foo", "bar")
		assert.True(t, found, "expected decoded insert in XLogData")
		assert.Greater(t, uint64(stream.LastLSN()), uint64(0))
	})
}

func TestStreamFeedbackElicitsKeepalive(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		stream := setupStream(t, conn, connStr)

		_, err := conn.Exec("INSERT INTO test_table (assertable, target) VALUES ('foo', 'bar')")
		require.NoError(t, err)

		require.True(t, pollForXLogData(t, stream, "foo"))
		confirmed := stream.LastLSN()

		require.NoError(t, stream.SendStandbyStatus(ctx, confirmed))
		require.NoError(t, stream.RequestKeepalive(ctx))

		deadline := time.Now().Add(500 * time.Millisecond)
		var keepalive bool
		for time.Now().Before(deadline) && !keepalive {
			messages, err := stream.NextBatch(ctx, 10, 100*time.Millisecond)
			require.NoError(t, err)
			for _, msg := range messages {
				if msg.Keepalive != nil && msg.Keepalive.ServerWALEnd >= confirmed {
					keepalive = true
				}
			}
		}
		assert.True(t, keepalive, "expected a keepalive with wal_end >= confirmed LSN")
	})
}
