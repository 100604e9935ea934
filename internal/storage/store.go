// Package storage keeps an audit trail of loaded sessions and published events.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ewsreplay/internal/config"
	"ewsreplay/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveSession(ctx context.Context, session Session) error
	SaveEvent(ctx context.Context, ev model.Event) error
	RecentEvents(ctx context.Context, limit int) ([]model.Event, error)
}

// Session is one dataset load and the chart sessions it started.
type Session struct {
	ID        string
	Rows      int
	Attacks   int
	Malformed int
	LoadedAt  time.Time
	Charts    []ChartSession
}

type ChartSession struct {
	ChartID   string
	SessionID string
	Mode      string
	Field     string
	Error     string
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// recentEvents reads the payload column back; both dialects store the event
// as JSON text.
func (b *baseStore) recentEvents(ctx context.Context, query string, limit int) ([]model.Event, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Event, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
