// Package postgres is a Backend on PostgreSQL via pgxpool. History is
// stored inline as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/repo"
)

var _ repo.Backend = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS monitors (
  id           TEXT PRIMARY KEY,
  position     INTEGER NOT NULL DEFAULT 0,
  name         TEXT NOT NULL,
  url          TEXT NOT NULL,
  status       TEXT NOT NULL DEFAULT 'unknown',
  down_since   TIMESTAMPTZ NULL,
  alert_sent   BOOLEAN NOT NULL DEFAULT FALSE,
  last_checked TIMESTAMPTZ NULL,
  history      JSONB NOT NULL DEFAULT '[]'::jsonb,
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscribers (
  address    TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ---- monitors ----

func (s *Store) LoadMonitors(ctx context.Context) ([]domain.Monitor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, url, status, down_since, alert_sent, last_checked, history
		   FROM monitors
		  ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	out := []domain.Monitor{}
	for rows.Next() {
		var (
			m       domain.Monitor
			id      string
			status  string
			history []byte
		)
		if err := rows.Scan(&id, &m.Name, &m.URL, &status, &m.DownSince, &m.AlertSent, &m.LastChecked, &history); err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		m.ID = domain.MonitorID(id)
		if m.Status, err = domain.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("monitor %s: %w", id, err)
		}
		if len(history) > 0 {
			if err := json.Unmarshal(history, &m.History); err != nil {
				return nil, fmt.Errorf("monitor %s history: %w", id, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveMonitors upserts every monitor and deletes rows not in ms, in one
// transaction.
func (s *Store) SaveMonitors(ctx context.Context, ms []domain.Monitor) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, len(ms))
	batch := &pgx.Batch{}
	for i, m := range ms {
		history, err := json.Marshal(nonNil(m.History))
		if err != nil {
			return fmt.Errorf("encode history %s: %w", m.ID, err)
		}
		ids = append(ids, string(m.ID))
		batch.Queue(
			`INSERT INTO monitors (id, position, name, url, status, down_since, alert_sent, last_checked, history, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			 ON CONFLICT (id) DO UPDATE SET
			   position = EXCLUDED.position,
			   name = EXCLUDED.name,
			   url = EXCLUDED.url,
			   status = EXCLUDED.status,
			   down_since = EXCLUDED.down_since,
			   alert_sent = EXCLUDED.alert_sent,
			   last_checked = EXCLUDED.last_checked,
			   history = EXCLUDED.history,
			   updated_at = now()`,
			string(m.ID), i, m.Name, m.URL, string(m.Status), m.DownSince, m.AlertSent, m.LastChecked, history,
		)
	}
	batch.Queue(`DELETE FROM monitors WHERE NOT (id = ANY($1))`, ids)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save monitors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ---- subscribers ----

func (s *Store) LoadSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, created_at FROM subscribers ORDER BY created_at, address`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	out := []domain.Subscriber{}
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.Address, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) SaveSubscribers(ctx context.Context, subs []domain.Subscriber) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	addrs := make([]string, 0, len(subs))
	batch := &pgx.Batch{}
	for _, sub := range subs {
		created := sub.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		addrs = append(addrs, sub.Address)
		batch.Queue(
			`INSERT INTO subscribers (address, created_at) VALUES ($1, $2)
			 ON CONFLICT (address) DO NOTHING`,
			sub.Address, created,
		)
	}
	batch.Queue(`DELETE FROM subscribers WHERE NOT (address = ANY($1))`, addrs)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save subscribers: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nonNil(h []domain.Sample) []domain.Sample {
	if h == nil {
		return []domain.Sample{}
	}
	return h
}
