// Package memory is an in-process Backend. Saved data lives only as long
// as the Store.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/repo"
)

var _ repo.Backend = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	monitors    []byte
	subscribers []byte
	saves       int
	failSaves   error
	failSubs    error
}

func New() *Store {
	return &Store{}
}

// Seed preloads monitors and subscribers as if they had been saved.
func (m *Store) Seed(ms []domain.Monitor, subs []domain.Subscriber) error {
	mb, err := json.Marshal(ms)
	if err != nil {
		return err
	}
	sb, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitors, m.subscribers = mb, sb
	return nil
}

func (m *Store) LoadMonitors(ctx context.Context) ([]domain.Monitor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Monitor{}
	if m.monitors == nil {
		return out, nil
	}
	err := json.Unmarshal(m.monitors, &out)
	return out, err
}

// SaveMonitors keeps an encoded copy so later caller mutations do not
// leak into the store.
func (m *Store) SaveMonitors(ctx context.Context, ms []domain.Monitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves != nil {
		return m.failSaves
	}
	b, err := json.Marshal(ms)
	if err != nil {
		return err
	}
	m.monitors = b
	m.saves++
	return nil
}

func (m *Store) LoadSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Subscriber{}
	if m.subscribers == nil {
		return out, nil
	}
	err := json.Unmarshal(m.subscribers, &out)
	return out, err
}

func (m *Store) SaveSubscribers(ctx context.Context, subs []domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSubs != nil {
		return m.failSubs
	}
	b, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	m.subscribers = b
	return nil
}

// Saves reports how many successful monitor saves happened.
func (m *Store) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// SetFailSaves makes SaveMonitors return err until reset with nil.
func (m *Store) SetFailSaves(err error) {
	m.mu.Lock()
	m.failSaves = err
	m.mu.Unlock()
}

// SetFailSubscriberSaves makes SaveSubscribers return err until reset
// with nil.
func (m *Store) SetFailSubscriberSaves(err error) {
	m.mu.Lock()
	m.failSubs = err
	m.mu.Unlock()
}
