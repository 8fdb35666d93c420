// SPDX-License-Identifier: Apache-2.0

package replay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamatthews/pgost/pkg/replay"
)

func TestDecodeChanges(t *testing.T) {
	t.Parallel()

	payload := `{
		"change": [
			{"kind": "insert", "table": "test_table", "columnvalues": [42, "ins", "t"]},
			{"kind": "update", "table": "test_table", "columnvalues": [7, "upd", "t"], "oldkeys": {"keyvalues": [7, "old", "t"]}},
			{"kind": "delete", "table": "test_table", "oldkeys": {"keyvalues": [9, "gone", "t"]}}
		]
	}`

	events, marker, err := replay.DecodeChanges([]byte(payload))
	require.NoError(t, err)

	assert.False(t, marker)
	assert.Equal(t, []replay.Event{
		{Kind: replay.KindInsert, Key: 42},
		{Kind: replay.KindUpdate, Key: 7},
		{Kind: replay.KindDelete, Key: 9},
	}, events)
}

func TestDecodeChangesMarkerMessage(t *testing.T) {
	t.Parallel()

	payload := `{
		"change": [
			{"kind": "message", "transactional": false, "prefix": "postgres-ost", "content": "replay complete"}
		]
	}`

	events, marker, err := replay.DecodeChanges([]byte(payload))
	require.NoError(t, err)

	assert.True(t, marker)
	assert.Empty(t, events)
}

func TestDecodeChangesForeignMessagePrefixIsIgnored(t *testing.T) {
	t.Parallel()

	payload := `{"change": [{"kind": "message", "prefix": "someone-else", "content": "x"}]}`

	_, marker, err := replay.DecodeChanges([]byte(payload))
	require.NoError(t, err)
	assert.False(t, marker)
}

func TestDecodeChangesEmptyTransaction(t *testing.T) {
	t.Parallel()

	events, marker, err := replay.DecodeChanges([]byte(`{"change": []}`))
	require.NoError(t, err)
	assert.False(t, marker)
	assert.Empty(t, events)
}

func TestDecodeChangesRejectsNonIntegerKey(t *testing.T) {
	t.Parallel()

	payload := `{"change": [{"kind": "insert", "columnvalues": ["not-a-number"]}]}`

	_, _, err := replay.DecodeChanges([]byte(payload))
	assert.Error(t, err)
}
