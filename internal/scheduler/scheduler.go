package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/metrics"
	"github.com/hamed0406/sitepulse/internal/probe"
	"github.com/hamed0406/sitepulse/internal/status"
)

// Store is the owned monitor repository the scheduler drives.
type Store interface {
	Monitors() []domain.Monitor
	Monitor(id domain.MonitorID) (domain.Monitor, bool)
	Subscribers() []domain.Subscriber
	LastSample(id domain.MonitorID) (domain.Sample, bool)
	// Commit applies a tick result. It reports false when the monitor
	// was removed while its check was running.
	Commit(id domain.MonitorID, next domain.State, checkedAt time.Time, sample *domain.Sample) bool
	Save(ctx context.Context) error
	// Flush saves monitors and subscribers.
	Flush(ctx context.Context) error
}

type Scheduler struct {
	Logger      *zap.Logger
	Store       Store
	Prober      probe.Checker
	Machine     *status.Machine
	Alerts      *Dispatcher
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
	Now         func() time.Time

	mu       sync.Mutex
	inFlight map[domain.MonitorID]struct{}
	dirty    atomic.Bool
	flush    atomic.Bool
	batches  sync.WaitGroup
}

func New(
	logger *zap.Logger,
	store Store,
	prober probe.Checker,
	machine *status.Machine,
	alerts *Dispatcher,
	interval time.Duration,
	timeout time.Duration,
	concurrency int,
) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	if interval < 0 {
		interval = 0
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		Logger:      logger,
		Store:       store,
		Prober:      prober,
		Machine:     machine,
		Alerts:      alerts,
		Interval:    interval,
		Timeout:     timeout,
		Concurrency: concurrency,
		Now:         func() time.Time { return time.Now().UTC() },
		inFlight:    make(map[domain.MonitorID]struct{}),
	}
}

// Run does an immediate pass, then starts a batch on every tick. A batch
// may outlive its tick; monitors still in flight are skipped by the next
// one. Run returns after ctx is cancelled and running batches finish.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Interval == 0 {
		s.Logger.Info("scheduler_disabled")
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.startBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.batches.Wait()
			s.Logger.Info("scheduler_stopped")
			return
		case <-t.C:
			s.startBatch(ctx)
		}
	}
}

func (s *Scheduler) startBatch(ctx context.Context) {
	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		s.Tick(ctx)
	}()
}

// TickReport summarizes one batch.
type TickReport struct {
	Checked int
	Skipped int
	Changed int
	Failed  int
	Saved   bool
	SaveErr error
}

// Tick checks every monitor once and persists if anything changed or a
// previous save failed.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	var (
		rep             TickReport
		changed, failed atomic.Int32
		g               errgroup.Group
	)
	g.SetLimit(s.Concurrency)

	for _, m := range s.Store.Monitors() {
		m := m
		if !s.acquire(m.ID) {
			rep.Skipped++
			metrics.ChecksSkippedTotal.Inc()
			s.Logger.Info("scheduler_check_skipped",
				zap.String("monitor_id", string(m.ID)),
				zap.String("url", m.URL),
			)
			continue
		}
		rep.Checked++
		g.Go(func() error {
			defer s.release(m.ID)
			ok, err := s.checkOne(ctx, m.ID)
			if err != nil {
				failed.Add(1)
				s.Logger.Error("scheduler_check_error",
					zap.String("monitor_id", string(m.ID)),
					zap.String("url", m.URL),
					zap.Error(err),
				)
				return nil
			}
			if ok {
				changed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Changed = int(changed.Load())
	rep.Failed = int(failed.Load())

	// Swap so a concurrent MarkDirty is never cleared by an older save.
	needSave := s.dirty.Swap(false) || rep.Changed > 0
	needFlush := s.flush.Swap(false)
	if needSave || needFlush {
		save := s.Store.Save
		if needFlush {
			save = s.Store.Flush
		}
		if err := save(ctx); err != nil {
			s.dirty.Store(true)
			if needFlush {
				s.flush.Store(true)
			}
			rep.SaveErr = err
			metrics.PersistenceFailuresTotal.WithLabelValues("save").Inc()
			s.Logger.Error("scheduler_save_error", zap.Error(err), zap.Bool("flush", needFlush))
		} else {
			rep.Saved = true
		}
	}

	s.observeStatuses()
	s.Logger.Debug("scheduler_tick_done",
		zap.Int("checked", rep.Checked),
		zap.Int("skipped", rep.Skipped),
		zap.Int("changed", rep.Changed),
		zap.Int("failed", rep.Failed),
		zap.Bool("saved", rep.Saved),
		zap.Duration("took", time.Since(start)),
	)
	return rep
}

// checkOne runs probe, state machine, alerting and commit for a single
// monitor. It reports whether the monitor's persisted state changed.
func (s *Scheduler) checkOne(ctx context.Context, id domain.MonitorID) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CheckPanicsTotal.Inc()
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()

	// Re-read under the in-flight claim so the state is never older than
	// the previous commit.
	m, ok := s.Store.Monitor(id)
	if !ok {
		return false, nil
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Timeout)
	defer cancel()

	out := s.Prober.Check(pctx, m.URL)
	now := s.Now()

	var last *domain.Sample
	if l, ok := s.Store.LastSample(m.ID); ok {
		last = &l
	}
	tr := s.Machine.Step(pctx, status.Input{
		URL:     m.URL,
		State:   m.State(),
		Outcome: out,
		Last:    last,
		Now:     now,
	})
	if tr.Reprobed {
		metrics.ObserveConfirmation(tr.Confirmation.OK)
	}

	if tr.Event != "" && s.Alerts != nil {
		detail := out
		if tr.Reprobed {
			detail = tr.Confirmation
		}
		s.Alerts.Dispatch(ctx, Alert{
			Monitor:   m,
			Kind:      tr.Event,
			Outcome:   detail,
			DownSince: tr.Prev.DownSince,
			At:        now,
		}, s.Store.Subscribers())
	}

	if !s.Store.Commit(m.ID, tr.Next, now, tr.Sample) {
		s.Logger.Info("scheduler_monitor_gone", zap.String("monitor_id", string(m.ID)))
		return false, nil
	}

	if tr.Prev.Status != tr.Next.Status {
		metrics.TransitionsTotal.WithLabelValues(string(tr.Prev.Status), string(tr.Next.Status)).Inc()
		s.Logger.Info("monitor_status_changed",
			zap.String("monitor_id", string(m.ID)),
			zap.String("url", m.URL),
			zap.String("from", string(tr.Prev.Status)),
			zap.String("to", string(tr.Next.Status)),
			zap.Int("http_status", out.HTTPStatus),
			zap.String("error_kind", string(out.Err)),
			zap.String("reason", out.Message),
			zap.Bool("used_fallback", out.UsedFallback),
			zap.Bool("reprobed", tr.Reprobed),
		)
	} else {
		s.Logger.Debug("monitor_checked",
			zap.String("monitor_id", string(m.ID)),
			zap.String("status", string(tr.Next.Status)),
			zap.Bool("ok", out.OK),
			zap.Int("http_status", out.HTTPStatus),
		)
	}
	return tr.Changed(), nil
}

// MarkDirty forces a full save of monitors and subscribers on the next
// tick, e.g. after an API write failed to persist.
func (s *Scheduler) MarkDirty() { s.flush.Store(true) }

func (s *Scheduler) acquire(id domain.MonitorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id domain.MonitorID) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Scheduler) observeStatuses() {
	counts := map[domain.Status]int{
		domain.StatusUnknown:       0,
		domain.StatusUp:            0,
		domain.StatusDownPending:   0,
		domain.StatusDownConfirmed: 0,
	}
	for _, m := range s.Store.Monitors() {
		m := m
		counts[m.Status]++
	}
	for st, n := range counts {
		metrics.Monitors.WithLabelValues(string(st)).Set(float64(n))
	}
}
