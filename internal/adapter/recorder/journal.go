// Package recorder keeps a SQLite journal of client sessions and their
// lifecycle events.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"isaac-client/internal/domain"
)

// SessionRecord summarizes one client session.
type SessionRecord struct {
	ID          string
	Endpoint    string
	Name        string
	StartedAt   time.Time
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseCode   int
	CloseReason string
	Remote      bool
	Frames      int64
	Dropped     int64
	Stale       int64
}

// EventRecord is one journaled event.
type EventRecord struct {
	ID        string
	SessionID string
	Type      domain.EventType
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Journal is a SQLite-backed event journal.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal at dbPath and runs the schema
// migration. Use ":memory:" for a throwaway journal.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// One writer; the bus delivers events to the journal in order.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			endpoint     TEXT NOT NULL DEFAULT '',
			name         TEXT NOT NULL DEFAULT '',
			started_at   TEXT NOT NULL,
			opened_at    TEXT NOT NULL DEFAULT '',
			closed_at    TEXT NOT NULL DEFAULT '',
			close_code   INTEGER NOT NULL DEFAULT 0,
			close_reason TEXT NOT NULL DEFAULT '',
			remote       INTEGER NOT NULL DEFAULT 0,
			frames       INTEGER NOT NULL DEFAULT 0,
			dropped      INTEGER NOT NULL DEFAULT 0,
			stale        INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
	`)
	return err
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach records every event published on bus until the returned function
// is called.
func (j *Journal) Attach(bus domain.EventBus) func() {
	return bus.SubscribeAll(func(ctx context.Context, ev domain.Event) {
		if err := j.Record(ctx, ev); err != nil {
			j.logger.Warn("journal write failed", "event", string(ev.Type), "error", err)
		}
	})
}

// Record appends ev to the journal and folds it into its session summary.
func (j *Journal) Record(ctx context.Context, ev domain.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := formatStamp(ts)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO events (id, session_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		ulid.Make().String(), ev.SessionID, string(ev.Type), string(ev.Payload), stamp,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if ev.SessionID != "" {
		if err := foldSession(ctx, tx, ev, stamp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func foldSession(ctx context.Context, tx *sql.Tx, ev domain.Event, stamp string) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)", ev.SessionID, stamp,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	var (
		query string
		args  []any
	)
	switch ev.Type {
	case domain.EventConnectionOpening:
		var p struct {
			Endpoint string `json:"endpoint"`
		}
		_ = json.Unmarshal(ev.Payload, &p)
		query, args = "UPDATE sessions SET endpoint = ? WHERE id = ?", []any{p.Endpoint, ev.SessionID}
	case domain.EventConnectionOpened:
		query, args = "UPDATE sessions SET opened_at = ? WHERE id = ?", []any{stamp, ev.SessionID}
	case domain.EventSessionInfo:
		var p struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(ev.Payload, &p)
		query, args = "UPDATE sessions SET name = ? WHERE id = ?", []any{p.Name, ev.SessionID}
	case domain.EventFrameDelivered:
		query, args = "UPDATE sessions SET frames = frames + 1 WHERE id = ?", []any{ev.SessionID}
	case domain.EventFrameDropped:
		query, args = "UPDATE sessions SET dropped = dropped + 1 WHERE id = ?", []any{ev.SessionID}
	case domain.EventFrameStale:
		query, args = "UPDATE sessions SET stale = stale + 1 WHERE id = ?", []any{ev.SessionID}
	case domain.EventConnectionClosed:
		var p domain.ClosePayload
		_ = json.Unmarshal(ev.Payload, &p)
		query = "UPDATE sessions SET closed_at = ?, close_code = ?, close_reason = ?, remote = ? WHERE id = ?"
		args = []any{stamp, p.Code, p.Reason, p.Remote, ev.SessionID}
	default:
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Session returns the summary of one session.
func (j *Journal) Session(ctx context.Context, id string) (*SessionRecord, error) {
	row := j.db.QueryRowContext(ctx, sessionSelect+" WHERE id = ?", id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewDomainError("Journal.Session", domain.ErrNotFound, id)
	}
	return rec, err
}

// Sessions returns up to limit sessions, newest first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, sessionSelect+" ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Events returns the events of one session in the order they were recorded.
func (j *Journal) Events(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, session_id, type, payload, created_at FROM events WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			e       EventRecord
			typ     string
			payload string
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &typ, &payload, &created); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		if payload != "" {
			e.Payload = json.RawMessage(payload)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes closed sessions that ended before cutoff, their events,
// and session-less events recorded before cutoff. Open sessions are kept.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	stamp := formatStamp(cutoff)

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id IN (
		SELECT id FROM sessions WHERE closed_at != '' AND closed_at < ?)`, stamp); err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM events WHERE session_id = '' AND created_at < ?", stamp); err != nil {
		return 0, fmt.Errorf("prune orphan events: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"DELETE FROM sessions WHERE closed_at != '' AND closed_at < ?", stamp)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("journal pruned", "sessions", n, "cutoff", stamp)
	}
	return n, nil
}

// stampLayout is fixed width so stored timestamps compare as strings.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatStamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

const sessionSelect = `SELECT id, endpoint, name, started_at, opened_at, closed_at,
	close_code, close_reason, remote, frames, dropped, stale FROM sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var (
		r                       SessionRecord
		started, opened, closed string
		remote                  int
	)
	if err := row.Scan(&r.ID, &r.Endpoint, &r.Name, &started, &opened, &closed,
		&r.CloseCode, &r.CloseReason, &remote, &r.Frames, &r.Dropped, &r.Stale); err != nil {
		return nil, err
	}
	r.Remote = remote != 0
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	r.OpenedAt, _ = time.Parse(time.RFC3339Nano, opened)
	r.ClosedAt, _ = time.Parse(time.RFC3339Nano, closed)
	return &r, nil
}
