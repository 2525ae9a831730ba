package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/sitepulse/internal/domain"
)

// openTestStore connects with a private schema so runs never touch real data.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := fmt.Sprintf("sitepulse_test_%d", time.Now().UTC().UnixNano())
	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	s := &Store{pool: pool, log: zap.NewNop()}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestPostgresStore_SaveLoadMonitors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ds := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	lat := int64(31)
	ms := []domain.Monitor{
		{ID: "b", Name: "B", URL: "https://b.example", Status: domain.StatusDownPending, DownSince: &ds,
			History: []domain.Sample{domain.UpSample(ds.Add(-time.Minute), &lat), domain.DownSample(ds)}},
		{ID: "a", Name: "A", URL: "https://a.example", Status: domain.StatusUp},
	}
	if err := s.SaveMonitors(ctx, ms); err != nil {
		t.Fatalf("SaveMonitors: %v", err)
	}

	got, err := s.LoadMonitors(ctx)
	if err != nil {
		t.Fatalf("LoadMonitors: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("order not preserved: %+v", got)
	}
	if got[0].DownSince == nil || !got[0].DownSince.Equal(ds) || len(got[0].History) != 2 {
		t.Fatalf("monitor b mismatch: %+v", got[0])
	}
	if got[0].History[0].LatencyMS == nil || *got[0].History[0].LatencyMS != 31 {
		t.Fatalf("latency lost: %+v", got[0].History[0])
	}

	// saving a smaller set removes the missing row
	if err := s.SaveMonitors(ctx, ms[1:]); err != nil {
		t.Fatalf("SaveMonitors (shrink): %v", err)
	}
	got, err = s.LoadMonitors(ctx)
	if err != nil || len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("after shrink: %+v %v", got, err)
	}
}

func TestPostgresStore_Subscribers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	subs := []domain.Subscriber{{Address: "a@example.com"}, {Address: "tg:42"}}
	if err := s.SaveSubscribers(ctx, subs); err != nil {
		t.Fatalf("SaveSubscribers: %v", err)
	}
	if err := s.SaveSubscribers(ctx, subs[:1]); err != nil {
		t.Fatalf("SaveSubscribers (shrink): %v", err)
	}
	got, err := s.LoadSubscribers(ctx)
	if err != nil || len(got) != 1 || got[0].Address != "a@example.com" {
		t.Fatalf("LoadSubscribers: %+v %v", got, err)
	}
}
