// Package history records finished calls into the client's sqlite
// database.
package history

import (
	"context"
	"database/sql"
	"time"

	"whispercall/internal/core/domain"
	apperrors "whispercall/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_history (
	account     TEXT NOT NULL,
	call_id     TEXT NOT NULL,
	peer_id     TEXT NOT NULL,
	is_video    INTEGER NOT NULL,
	is_outgoing INTEGER NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL,
	PRIMARY KEY (account, call_id)
);`

// SQLiteHistory implements the HistorySink port. It shares the database
// handle with the key-value store.
type SQLiteHistory struct {
	db      *sql.DB
	account string
}

func NewSQLiteHistory(db *sql.DB, account string) (*SQLiteHistory, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to create history schema")
	}
	return &SQLiteHistory{db: db, account: account}, nil
}

func (h *SQLiteHistory) Record(ctx context.Context, entry domain.HistoryEntry) error {
	var startedAt int64
	if !entry.StartedAt.IsZero() {
		startedAt = entry.StartedAt.UnixMilli()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO call_history
		 (account, call_id, peer_id, is_video, is_outgoing, status, started_at, duration_ms, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (account, call_id) DO UPDATE SET
		 status = excluded.status, duration_ms = excluded.duration_ms, ended_at = excluded.ended_at`,
		h.account,
		string(entry.CallID),
		string(entry.PeerID),
		boolInt(entry.IsVideo),
		boolInt(entry.IsOutgoing),
		string(entry.Status),
		startedAt,
		entry.Duration.Milliseconds(),
		entry.EndedAt.UnixMilli(),
	)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "history write failed")
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (h *SQLiteHistory) Recent(ctx context.Context, n int) ([]domain.HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT call_id, peer_id, is_video, is_outgoing, status, started_at, duration_ms, ended_at
		 FROM call_history WHERE account = ? ORDER BY ended_at DESC LIMIT ?`,
		h.account, n,
	)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "history read failed")
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e                   domain.HistoryEntry
			callID, peerID, st  string
			video, outgoing     int
			started, dur, ended int64
		)
		if err := rows.Scan(&callID, &peerID, &video, &outgoing, &st, &started, &dur, &ended); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "history scan failed")
		}
		e.CallID = domain.CallID(callID)
		e.PeerID = domain.PeerID(peerID)
		e.IsVideo = video != 0
		e.IsOutgoing = outgoing != 0
		e.Status = domain.HistoryStatus(st)
		if started != 0 {
			e.StartedAt = timeFromMilli(started)
		}
		e.Duration = durationFromMilli(dur)
		e.EndedAt = timeFromMilli(ended)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeFromMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func durationFromMilli(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
