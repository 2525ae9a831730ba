// Package sqlite is a single-file Backend on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/repo"
)

var _ repo.Backend = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS monitors (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'unknown',
			down_since TEXT,
			alert_sent INTEGER NOT NULL DEFAULT 0,
			last_checked TEXT,
			history TEXT NOT NULL DEFAULT '[]'
		)
	`); err != nil {
		return fmt.Errorf("create monitors table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscribers (
			address TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create subscribers table: %w", err)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so they keep nanoseconds
// and sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func toText(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func fromText(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) LoadMonitors(ctx context.Context) ([]domain.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, status, down_since, alert_sent, last_checked, history
		FROM monitors ORDER BY position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query monitors: %w", err)
	}
	defer rows.Close()

	out := []domain.Monitor{}
	for rows.Next() {
		var (
			m           domain.Monitor
			id, status  string
			downSince   sql.NullString
			lastChecked sql.NullString
			alertSent   int
			history     string
		)
		if err := rows.Scan(&id, &m.Name, &m.URL, &status, &downSince, &alertSent, &lastChecked, &history); err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		m.ID = domain.MonitorID(id)
		if m.Status, err = domain.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("monitor %s: %w", id, err)
		}
		if m.DownSince, err = fromText(downSince); err != nil {
			return nil, fmt.Errorf("monitor %s down_since: %w", id, err)
		}
		if m.LastChecked, err = fromText(lastChecked); err != nil {
			return nil, fmt.Errorf("monitor %s last_checked: %w", id, err)
		}
		m.AlertSent = alertSent != 0
		if err := json.Unmarshal([]byte(history), &m.History); err != nil {
			return nil, fmt.Errorf("monitor %s history: %w", id, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveMonitors replaces the stored set in one transaction.
func (s *Store) SaveMonitors(ctx context.Context, ms []domain.Monitor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM monitors`); err != nil {
		return fmt.Errorf("clear monitors: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO monitors (id, position, name, url, status, down_since, alert_sent, last_checked, history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range ms {
		h := m.History
		if h == nil {
			h = []domain.Sample{}
		}
		history, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encode history %s: %w", m.ID, err)
		}
		alertSent := 0
		if m.AlertSent {
			alertSent = 1
		}
		if _, err := stmt.ExecContext(ctx,
			string(m.ID), i, m.Name, m.URL, string(m.Status),
			toText(m.DownSince), alertSent, toText(m.LastChecked), string(history),
		); err != nil {
			return fmt.Errorf("insert monitor %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, created_at FROM subscribers ORDER BY created_at, address`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	out := []domain.Subscriber{}
	for rows.Next() {
		var (
			sub     domain.Subscriber
			created string
		)
		if err := rows.Scan(&sub.Address, &created); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		t, err := parseTime(created)
		if err != nil {
			return nil, fmt.Errorf("subscriber %s created_at: %w", sub.Address, err)
		}
		sub.CreatedAt = t
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) SaveSubscribers(ctx context.Context, subs []domain.Subscriber) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers`); err != nil {
		return fmt.Errorf("clear subscribers: %w", err)
	}
	for _, sub := range subs {
		created := sub.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO subscribers (address, created_at) VALUES (?, ?)`,
			sub.Address, formatTime(created),
		); err != nil {
			return fmt.Errorf("insert subscriber %s: %w", sub.Address, err)
		}
	}
	return tx.Commit()
}
