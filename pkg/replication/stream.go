// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/jamatthews/pgost/internal/connstr"
)

// Message is a single frame received from the replication stream. Exactly one
// field is set; frames of unknown kind are preserved as raw bytes.
type Message struct {
	XLogData  *pglogrepl.XLogData
	Keepalive *pglogrepl.PrimaryKeepaliveMessage

	UnknownKind byte
	UnknownData []byte
}

// Stream consumes a logical replication slot over the streaming replication
// protocol. It owns a dedicated replication connection; lib/pq cannot enter
// copy-both mode.
//
// Standby status updates carry a client timestamp in microseconds since the
// Postgres epoch (2000-01-01), as the protocol requires.
type Stream struct {
	conn     *pgconn.PgConn
	slotName string
	lastLSN  pglogrepl.LSN
}

// NewStream connects for replication. The connection string is canonicalised
// to carry `replication=database` if the caller's string lacks it.
func NewStream(ctx context.Context, connStr, slotName string, startLSN pglogrepl.LSN) (*Stream, error) {
	conn, err := pgconn.Connect(ctx, connstr.WithReplicationParam(connStr))
	if err != nil {
		return nil, fmt.Errorf("connecting for replication: %w", err)
	}
	return &Stream{conn: conn, slotName: slotName, lastLSN: startLSN}, nil
}

// Start issues START_REPLICATION and switches the connection into copy-both
// mode.
func (s *Stream) Start(ctx context.Context) error {
	err := pglogrepl.StartReplication(ctx, s.conn, s.slotName, s.lastLSN,
		pglogrepl.StartReplicationOptions{Mode: pglogrepl.LogicalReplication})
	if err != nil {
		return fmt.Errorf("starting replication on slot %s: %w", s.slotName, err)
	}
	return nil
}

// NextBatch reads up to maxMessages frames, waiting at most timeout overall.
// XLogData frames advance the stream's position; keepalives that request a
// reply are answered immediately with a standby status update.
func (s *Stream) NextBatch(ctx context.Context, maxMessages int, timeout time.Duration) ([]Message, error) {
	deadline := time.Now().Add(timeout)

	var messages []Message
	for len(messages) < maxMessages {
		recvCtx, cancel := context.WithDeadline(ctx, deadline)
		raw, err := s.conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				break
			}
			return messages, fmt.Errorf("receiving replication message: %w", err)
		}

		copyData, ok := raw.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				return messages, fmt.Errorf("parsing XLogData: %w", err)
			}
			s.advance(xld.ServerWALEnd)
			messages = append(messages, Message{XLogData: &xld})
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				return messages, fmt.Errorf("parsing keepalive: %w", err)
			}
			s.advance(pkm.ServerWALEnd)
			if pkm.ReplyRequested {
				if err := s.SendStandbyStatus(ctx, s.lastLSN); err != nil {
					return messages, err
				}
			}
			messages = append(messages, Message{Keepalive: &pkm})
		default:
			messages = append(messages, Message{
				UnknownKind: copyData.Data[0],
				UnknownData: copyData.Data[1:],
			})
		}
	}

	return messages, nil
}

// SendStandbyStatus reports the confirmed position to the server. Write,
// flush and apply positions are all set to the given LSN.
func (s *Stream) SendStandbyStatus(ctx context.Context, lsn pglogrepl.LSN) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
	if err != nil {
		return fmt.Errorf("sending standby status update: %w", err)
	}
	return nil
}

// RequestKeepalive sends a standby status update flagged reply-requested,
// prompting the server to answer with a keepalive.
func (s *Stream) RequestKeepalive(ctx context.Context) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: s.lastLSN,
		WALFlushPosition: s.lastLSN,
		WALApplyPosition: s.lastLSN,
		ReplyRequested:   true,
	})
	if err != nil {
		return fmt.Errorf("requesting keepalive: %w", err)
	}
	return nil
}

// LastLSN is the highest WAL end position observed on the stream.
func (s *Stream) LastLSN() pglogrepl.LSN {
	return s.lastLSN
}

func (s *Stream) advance(lsn pglogrepl.LSN) {
	if lsn > s.lastLSN {
		s.lastLSN = lsn
	}
}

// Close terminates the replication connection, releasing the slot for other
// consumers.
func (s *Stream) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
