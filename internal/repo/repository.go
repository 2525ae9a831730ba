package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/history"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Backend is the persistence port. Implementations replace the whole
// stored set on save.
type Backend interface {
	LoadMonitors(ctx context.Context) ([]domain.Monitor, error)
	SaveMonitors(ctx context.Context, ms []domain.Monitor) error
	LoadSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	SaveSubscribers(ctx context.Context, subs []domain.Subscriber) error
}

// Repository owns the live monitor and subscriber sets. Monitor history
// lives in a history.Store and is attached on read and save.
type Repository struct {
	log     *zap.Logger
	backend Backend
	history *history.Store
	now     func() time.Time
	newID   func() domain.MonitorID

	mu       sync.RWMutex
	order    []domain.MonitorID
	monitors map[domain.MonitorID]*domain.Monitor
	subs     []domain.Subscriber

	saveMu sync.Mutex
}

func New(logger *zap.Logger, backend Backend, historyCap int) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		log:      logger,
		backend:  backend,
		history:  history.NewStore(historyCap),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() domain.MonitorID { return domain.MonitorID(uuid.NewString()) },
		monitors: make(map[domain.MonitorID]*domain.Monitor),
	}
}

func (r *Repository) History() *history.Store { return r.history }

// Load replaces the in-memory state with the backend's. Invalid records
// are skipped and inconsistent ones repaired, both with a warning.
func (r *Repository) Load(ctx context.Context) error {
	ms, err := r.backend.LoadMonitors(ctx)
	if err != nil {
		return fmt.Errorf("load monitors: %w", err)
	}
	subs, err := r.backend.LoadSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}

	now := r.now()
	order := make([]domain.MonitorID, 0, len(ms))
	monitors := make(map[domain.MonitorID]*domain.Monitor, len(ms))
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			r.log.Warn("repo_skip_invalid_monitor", zap.String("monitor_id", string(m.ID)), zap.Error(err))
			continue
		}
		if _, dup := monitors[m.ID]; dup {
			r.log.Warn("repo_skip_duplicate_monitor", zap.String("monitor_id", string(m.ID)))
			continue
		}
		if m.Normalize(now) {
			r.log.Warn("repo_repaired_monitor",
				zap.String("monitor_id", string(m.ID)),
				zap.String("status", string(m.Status)),
			)
		}
		r.history.Seed(m.ID, m.History)
		m.History = nil
		mm := m
		monitors[m.ID] = &mm
		order = append(order, m.ID)
	}

	cleanSubs := make([]domain.Subscriber, 0, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		addr, _, err := domain.NormalizeAddress(s.Address)
		if err != nil {
			r.log.Warn("repo_skip_invalid_subscriber", zap.String("address", s.Address), zap.Error(err))
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		s.Address = addr
		cleanSubs = append(cleanSubs, s)
	}

	r.mu.Lock()
	r.order = order
	r.monitors = monitors
	r.subs = cleanSubs
	r.mu.Unlock()

	r.log.Info("repo_loaded", zap.Int("monitors", len(order)), zap.Int("subscribers", len(cleanSubs)))
	return nil
}

// Save writes all monitors, including their history, to the backend.
func (r *Repository) Save(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if err := r.backend.SaveMonitors(ctx, r.Monitors()); err != nil {
		return fmt.Errorf("save monitors: %w", err)
	}
	return nil
}

func (r *Repository) SaveSubscribers(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if err := r.backend.SaveSubscribers(ctx, r.Subscribers()); err != nil {
		return fmt.Errorf("save subscribers: %w", err)
	}
	return nil
}

// Flush saves everything; used on shutdown.
func (r *Repository) Flush(ctx context.Context) error {
	return errors.Join(r.Save(ctx), r.SaveSubscribers(ctx))
}

func (r *Repository) withHistory(m *domain.Monitor) domain.Monitor {
	out := m.Clone()
	out.History = r.history.Samples(m.ID)
	return out
}

// Monitors returns a snapshot in insertion order.
func (r *Repository) Monitors() []domain.Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Monitor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.withHistory(r.monitors[id]))
	}
	return out
}

func (r *Repository) Monitor(id domain.MonitorID) (domain.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[id]
	if !ok {
		return domain.Monitor{}, false
	}
	return r.withHistory(m), true
}

func (r *Repository) LastSample(id domain.MonitorID) (domain.Sample, bool) {
	return r.history.Last(id)
}

// AddMonitor creates a monitor in the unknown state with empty history.
func (r *Repository) AddMonitor(name, rawURL string) (domain.Monitor, error) {
	name, rawURL = strings.TrimSpace(name), strings.TrimSpace(rawURL)
	if name == "" || rawURL == "" {
		return domain.Monitor{}, fmt.Errorf("%w: name and url required", domain.ErrInvalidMonitor)
	}
	u, err := domain.NormalizeURL(rawURL)
	if err != nil {
		return domain.Monitor{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if r.monitors[id].URL == u {
			return domain.Monitor{}, fmt.Errorf("%w: monitor for %s", ErrDuplicate, u)
		}
	}
	m := &domain.Monitor{
		ID:     r.newID(),
		Name:   name,
		URL:    u,
		Status: domain.StatusUnknown,
	}
	r.monitors[m.ID] = m
	r.order = append(r.order, m.ID)
	r.log.Info("repo_monitor_added", zap.String("monitor_id", string(m.ID)), zap.String("url", u))
	return r.withHistory(m), nil
}

func (r *Repository) RemoveMonitor(id domain.MonitorID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[id]; !ok {
		return fmt.Errorf("monitor %s: %w", id, ErrNotFound)
	}
	delete(r.monitors, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.history.Forget(id)
	r.log.Info("repo_monitor_removed", zap.String("monitor_id", string(id)))
	return nil
}

// Commit applies one tick's result. Results for deleted monitors are
// dropped.
func (r *Repository) Commit(id domain.MonitorID, next domain.State, checkedAt time.Time, sample *domain.Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	if !ok {
		return false
	}
	m.Apply(next)
	t := checkedAt
	m.LastChecked = &t
	if sample != nil {
		r.history.Append(id, *sample)
	}
	return true
}

func (r *Repository) Subscribers() []domain.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subscriber, len(r.subs))
	copy(out, r.subs)
	return out
}

func (r *Repository) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// AddSubscriber is an upsert; created is false when the address was
// already subscribed.
func (r *Repository) AddSubscriber(raw string) (sub domain.Subscriber, created bool, err error) {
	addr, _, err := domain.NormalizeAddress(raw)
	if err != nil {
		return domain.Subscriber{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Address == addr {
			return s, false, nil
		}
	}
	sub = domain.Subscriber{Address: addr, CreatedAt: r.now()}
	r.subs = append(r.subs, sub)
	return sub, true, nil
}

func (r *Repository) RemoveSubscriber(raw string) error {
	addr, _, err := domain.NormalizeAddress(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.Address == addr {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscriber %s: %w", addr, ErrNotFound)
}
