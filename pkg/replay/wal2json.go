// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jamatthews/pgost/pkg/replication"
)

// wal2json v1 payload. Only the change kind and the primary key positions are
// required; everything else the plugin emits is ignored.
type wal2jsonMessage struct {
	Change []wal2jsonChange `json:"change"`
}

type wal2jsonChange struct {
	Kind         string `json:"kind"`
	Prefix       string `json:"prefix"`
	ColumnValues []any  `json:"columnvalues"`
	OldKeys      struct {
		KeyValues []any `json:"keyvalues"`
	} `json:"oldkeys"`
}

// DecodeChanges parses a wal2json payload into replay events. The second
// return value reports whether the payload contained this tool's
// end-of-replay marker message.
func DecodeChanges(payload []byte) ([]Event, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var msg wal2jsonMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, false, fmt.Errorf("decoding wal2json payload: %w", err)
	}

	var events []Event
	var marker bool
	for _, change := range msg.Change {
		switch change.Kind {
		case "insert", "update":
			key, err := firstKey(change.ColumnValues)
			if err != nil {
				return nil, false, fmt.Errorf("%s change: %w", change.Kind, err)
			}
			kind := KindInsert
			if change.Kind == "update" {
				kind = KindUpdate
			}
			events = append(events, Event{Kind: kind, Key: key})
		case "delete":
			key, err := firstKey(change.OldKeys.KeyValues)
			if err != nil {
				return nil, false, fmt.Errorf("delete change: %w", err)
			}
			events = append(events, Event{Kind: KindDelete, Key: key})
		case "message":
			if change.Prefix == replication.MessagePrefix {
				marker = true
			}
		}
	}

	return events, marker, nil
}

func firstKey(values []any) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("no primary key value in change")
	}
	num, ok := values[0].(json.Number)
	if !ok {
		return 0, fmt.Errorf("primary key value %v is not an integer", values[0])
	}
	return num.Int64()
}
