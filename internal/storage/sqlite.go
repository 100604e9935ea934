package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"ewsreplay/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:ewsreplay.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			loaded_at TEXT NOT NULL,
			rows_total INTEGER NOT NULL,
			attacks INTEGER NOT NULL,
			malformed INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chart_sessions (
			session_id TEXT NOT NULL,
			chart_id TEXT NOT NULL,
			chart_session_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			field TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chart_sessions_session ON chart_sessions(session_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			chart_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			frame INTEGER NOT NULL,
			row_index INTEGER NOT NULL,
			level INTEGER NOT NULL,
			payload_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveSession(ctx context.Context, session Session) error {
	if s.db == nil || session.ID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	loadedAt := session.LoadedAt
	if loadedAt.IsZero() {
		loadedAt = nowUTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, loaded_at, rows_total, attacks, malformed) VALUES (?, ?, ?, ?, ?)`,
		session.ID, loadedAt.UTC(), session.Rows, session.Attacks, session.Malformed,
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chart_sessions (session_id, chart_id, chart_session_id, mode, field, error)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, cs := range session.Charts {
		if _, err := stmt.ExecContext(ctx, session.ID, cs.ChartID, cs.SessionID, cs.Mode, cs.Field, cs.Error); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if s.db == nil {
		return nil
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, chart_id, session_id, frame, row_index, level, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(),
		string(ev.Kind),
		ev.ChartID,
		ev.SessionID,
		ev.Frame,
		ev.Index,
		ev.Level,
		encodeJSON(ev),
	)
	return err
}

func (s *sqliteStore) RecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.recentEvents(ctx, `SELECT payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
}
