package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/sitepulse/internal/domain"
)

func TestMemoryStore_SaveAndLoadMonitors(t *testing.T) {
	ctx := context.Background()
	s := New()

	got, err := s.LoadMonitors(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty store: %v %v", got, err)
	}

	ms := []domain.Monitor{{ID: "a", Name: "A", URL: "https://a.example", Status: domain.StatusUp}}
	if err := s.SaveMonitors(ctx, ms); err != nil {
		t.Fatalf("SaveMonitors: %v", err)
	}
	ms[0].Name = "mutated"

	got, err = s.LoadMonitors(ctx)
	if err != nil {
		t.Fatalf("LoadMonitors: %v", err)
	}
	if len(got) != 1 || got[0].Name != "A" || got[0].Status != domain.StatusUp {
		t.Fatalf("unexpected monitors: %+v", got)
	}
	if s.Saves() != 1 {
		t.Fatalf("want 1 save, got %d", s.Saves())
	}
}

func TestMemoryStore_Subscribers(t *testing.T) {
	ctx := context.Background()
	s := New()
	subs := []domain.Subscriber{{Address: "a@example.com", CreatedAt: time.Now().UTC()}}
	if err := s.SaveSubscribers(ctx, subs); err != nil {
		t.Fatalf("SaveSubscribers: %v", err)
	}
	got, err := s.LoadSubscribers(ctx)
	if err != nil || len(got) != 1 || got[0].Address != "a@example.com" {
		t.Fatalf("LoadSubscribers: %+v %v", got, err)
	}
}

func TestMemoryStore_FailSaves(t *testing.T) {
	s := New()
	boom := errors.New("disk full")
	s.SetFailSaves(boom)
	if err := s.SaveMonitors(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("want injected error, got %v", err)
	}
	s.SetFailSaves(nil)
	if err := s.SaveMonitors(context.Background(), nil); err != nil {
		t.Fatalf("save after reset: %v", err)
	}
}
