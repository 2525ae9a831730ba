package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/probe"
	"github.com/hamed0406/sitepulse/internal/repo"
	"github.com/hamed0406/sitepulse/internal/repo/memory"
	"github.com/hamed0406/sitepulse/internal/status"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func okOutcome() probe.Outcome {
	lat := int64(5)
	return probe.Outcome{OK: true, HTTPStatus: 200, LatencyMS: &lat}
}

func failOutcome() probe.Outcome {
	return probe.Outcome{Err: probe.ErrConnect, Message: "refused"}
}

type fixture struct {
	repo    *repo.Repository
	backend *memory.Store
	sched   *Scheduler
	clock   *clock
	mail    *fakeTransport
}

func newFixture(t *testing.T, prober probe.Checker, urls ...string) *fixture {
	t.Helper()
	be := memory.New()
	r := repo.New(nil, be, 50)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, u := range urls {
		if _, err := r.AddMonitor(u, u); err != nil {
			t.Fatalf("AddMonitor(%s): %v", u, err)
		}
	}
	if _, _, err := r.AddSubscriber("ops@example.com"); err != nil {
		t.Fatal(err)
	}

	mail := &fakeTransport{}
	clk := &clock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	s := New(logger, r, prober,
		status.NewMachine(0, 0, nil),
		NewDispatcher(logger, mail, time.Second, 2),
		time.Minute, time.Second, 4)
	s.Now = clk.now
	return &fixture{repo: r, backend: be, sched: s, clock: clk, mail: mail}
}

func (f *fixture) monitor(t *testing.T, url string) domain.Monitor {
	t.Helper()
	for _, m := range f.repo.Monitors() {
		if m.URL == url {
			return m
		}
	}
	t.Fatalf("no monitor for %s", url)
	return domain.Monitor{}
}

func TestTick_PanicInOneCheckDoesNotStopOthers(t *testing.T) {
	prober := probe.CheckerFunc(func(ctx context.Context, target string) probe.Outcome {
		if target == "https://a.example" {
			panic("boom")
		}
		return okOutcome()
	})
	f := newFixture(t, prober, "https://a.example", "https://b.example")

	rep := f.sched.Tick(context.Background())
	if rep.Checked != 2 || rep.Failed != 1 || rep.Changed != 1 || !rep.Saved {
		t.Fatalf("report = %+v", rep)
	}
	if got := f.monitor(t, "https://a.example"); got.Status != domain.StatusUnknown {
		t.Fatalf("a should be untouched, got %s", got.Status)
	}
	if got := f.monitor(t, "https://b.example"); got.Status != domain.StatusUp || len(got.History) != 1 {
		t.Fatalf("b = %+v", got)
	}
	if f.backend.Saves() != 1 {
		t.Fatalf("saves = %d", f.backend.Saves())
	}
}

func TestTick_SkipsMonitorStillInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	prober := probe.CheckerFunc(func(ctx context.Context, target string) probe.Outcome {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return okOutcome()
	})
	f := newFixture(t, prober, "https://slow.example")

	done := make(chan TickReport)
	go func() { done <- f.sched.Tick(context.Background()) }()
	<-started

	second := f.sched.Tick(context.Background())
	if second.Checked != 0 || second.Skipped != 1 {
		t.Fatalf("second tick = %+v", second)
	}
	close(release)
	first := <-done
	if first.Checked != 1 || first.Changed != 1 {
		t.Fatalf("first tick = %+v", first)
	}
	if calls.Load() != 1 {
		t.Fatalf("probe ran %d times", calls.Load())
	}
}

func TestTick_SteadyStateDoesNotSave(t *testing.T) {
	f := newFixture(t, probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		return okOutcome()
	}), "https://a.example")

	f.sched.Tick(context.Background())
	f.clock.advance(time.Minute)
	rep := f.sched.Tick(context.Background())
	if rep.Changed != 0 || rep.Saved {
		t.Fatalf("steady tick = %+v", rep)
	}
	if f.backend.Saves() != 1 {
		t.Fatalf("saves = %d", f.backend.Saves())
	}
	m := f.monitor(t, "https://a.example")
	if m.LastChecked == nil || !m.LastChecked.Equal(f.clock.now()) {
		t.Fatalf("lastChecked not refreshed: %+v", m.LastChecked)
	}
}

func TestTick_RetriesFailedSave(t *testing.T) {
	f := newFixture(t, probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		return okOutcome()
	}), "https://a.example")

	boom := errors.New("disk full")
	f.backend.SetFailSaves(boom)
	rep := f.sched.Tick(context.Background())
	if rep.Saved || !errors.Is(rep.SaveErr, boom) {
		t.Fatalf("first tick = %+v", rep)
	}

	f.backend.SetFailSaves(nil)
	f.clock.advance(time.Minute)
	rep = f.sched.Tick(context.Background())
	if rep.Changed != 0 || !rep.Saved {
		t.Fatalf("dirty state should be saved on the next tick: %+v", rep)
	}
	if f.backend.Saves() != 1 {
		t.Fatalf("saves = %d", f.backend.Saves())
	}
}

func TestTick_RetriesFailedSubscriberSave(t *testing.T) {
	f := newFixture(t, probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		return okOutcome()
	}), "https://a.example")
	ctx := context.Background()
	f.sched.Tick(ctx)

	boom := errors.New("disk full")
	f.backend.SetFailSubscriberSaves(boom)
	if _, _, err := f.repo.AddSubscriber("oncall@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.SaveSubscribers(ctx); !errors.Is(err, boom) {
		t.Fatalf("SaveSubscribers err = %v", err)
	}
	f.sched.MarkDirty()

	f.clock.advance(time.Minute)
	rep := f.sched.Tick(ctx)
	if rep.Saved || !errors.Is(rep.SaveErr, boom) {
		t.Fatalf("tick while backend still failing = %+v", rep)
	}

	f.backend.SetFailSubscriberSaves(nil)
	f.clock.advance(time.Minute)
	rep = f.sched.Tick(ctx)
	if rep.Changed != 0 || !rep.Saved {
		t.Fatalf("retry tick = %+v", rep)
	}
	subs, err := f.backend.LoadSubscribers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range subs {
		if s.Address == "oncall@example.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("subscriber not persisted after retry: %+v", subs)
	}

	f.clock.advance(time.Minute)
	if rep := f.sched.Tick(ctx); rep.Saved {
		t.Fatalf("flush should not repeat once it succeeded: %+v", rep)
	}
}

// saveHookStore runs onSave once, just before the first save reaches the
// repository.
type saveHookStore struct {
	*repo.Repository
	onSave  func()
	flushes atomic.Int32
}

func (h *saveHookStore) Save(ctx context.Context) error {
	if fn := h.onSave; fn != nil {
		h.onSave = nil
		fn()
	}
	return h.Repository.Save(ctx)
}

func (h *saveHookStore) Flush(ctx context.Context) error {
	h.flushes.Add(1)
	return h.Repository.Flush(ctx)
}

func TestTick_MarkDirtyDuringSaveIsKept(t *testing.T) {
	f := newFixture(t, probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		return okOutcome()
	}), "https://a.example")
	hs := &saveHookStore{Repository: f.repo}
	hs.onSave = f.sched.MarkDirty
	f.sched.Store = hs
	ctx := context.Background()

	if rep := f.sched.Tick(ctx); rep.Changed != 1 || !rep.Saved {
		t.Fatalf("first tick = %+v", rep)
	}
	if hs.flushes.Load() != 0 {
		t.Fatalf("flushes after first tick = %d", hs.flushes.Load())
	}

	f.clock.advance(time.Minute)
	rep := f.sched.Tick(ctx)
	if rep.Changed != 0 || !rep.Saved || hs.flushes.Load() != 1 {
		t.Fatalf("dirty mark raised mid-save was dropped: %+v flushes=%d", rep, hs.flushes.Load())
	}
}

func TestTick_GraceThenConfirmedDown(t *testing.T) {
	var calls atomic.Int32
	prober := probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		calls.Add(1)
		return failOutcome()
	})
	f := newFixture(t, prober, "https://a.example")
	f.sched.Machine = status.NewMachine(2*time.Minute, 0, prober)
	ctx := context.Background()

	f.sched.Tick(ctx)
	f.clock.advance(time.Minute)
	f.sched.Tick(ctx)
	m := f.monitor(t, "https://a.example")
	if m.Status != domain.StatusDownPending || m.AlertSent {
		t.Fatalf("inside grace: %+v", m)
	}
	if len(f.mail.recipients()) != 0 {
		t.Fatalf("alert sent inside grace")
	}
	if calls.Load() != 2 {
		t.Fatalf("calls inside grace = %d", calls.Load())
	}

	f.clock.advance(time.Minute)
	f.sched.Tick(ctx)
	m = f.monitor(t, "https://a.example")
	if m.Status != domain.StatusDownConfirmed || !m.AlertSent {
		t.Fatalf("at grace boundary: %+v", m)
	}
	if calls.Load() != 4 {
		t.Fatalf("boundary tick should re-check once, calls = %d", calls.Load())
	}
	if n := len(f.mail.recipients()); n != 1 {
		t.Fatalf("down alerts = %d", n)
	}
}

func TestTick_GraceRecheckSelfHeals(t *testing.T) {
	var calls atomic.Int32
	prober := probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		if calls.Add(1) <= 3 {
			return failOutcome()
		}
		return okOutcome()
	})
	f := newFixture(t, prober, "https://a.example")
	f.sched.Machine = status.NewMachine(2*time.Minute, 0, prober)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.sched.Tick(ctx)
		f.clock.advance(time.Minute)
	}
	m := f.monitor(t, "https://a.example")
	if m.Status != domain.StatusUp || m.AlertSent || m.DownSince != nil {
		t.Fatalf("monitor = %+v", m)
	}
	if calls.Load() != 4 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if n := len(f.mail.recipients()); n != 0 {
		t.Fatalf("alerts after self-heal = %d", n)
	}
	if last := m.History[len(m.History)-1]; last.Status != domain.SampleUp {
		t.Fatalf("last sample = %+v", last)
	}
}

func TestTick_AlertsOncePerOutage(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	f := newFixture(t, probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		if failing.Load() {
			return failOutcome()
		}
		return okOutcome()
	}), "https://a.example")
	ctx := context.Background()

	f.sched.Tick(ctx) // down_pending
	if len(f.mail.recipients()) != 0 {
		t.Fatalf("alert sent before confirmation")
	}
	for i := 0; i < 3; i++ {
		f.clock.advance(time.Minute)
		f.sched.Tick(ctx)
	}
	m := f.monitor(t, "https://a.example")
	if m.Status != domain.StatusDownConfirmed || !m.AlertSent {
		t.Fatalf("monitor = %+v", m)
	}
	if n := len(f.mail.recipients()); n != 1 {
		t.Fatalf("down alerts sent = %d", n)
	}

	failing.Store(false)
	f.clock.advance(time.Minute)
	f.sched.Tick(ctx)
	f.clock.advance(time.Minute)
	f.sched.Tick(ctx)

	f.mail.mu.Lock()
	defer f.mail.mu.Unlock()
	if len(f.mail.sent) != 2 || f.mail.sent[1].subject != "Monitor UP: https://a.example" {
		t.Fatalf("sent = %+v", f.mail.sent)
	}
}

func TestTick_MonitorRemovedMidCheck(t *testing.T) {
	var f *fixture
	f = newFixture(t, probe.CheckerFunc(func(ctx context.Context, target string) probe.Outcome {
		m := f.monitor(t, target)
		if err := f.repo.RemoveMonitor(m.ID); err != nil {
			t.Errorf("RemoveMonitor: %v", err)
		}
		return okOutcome()
	}), "https://gone.example")

	rep := f.sched.Tick(context.Background())
	if rep.Failed != 0 || rep.Changed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(f.repo.Monitors()) != 0 {
		t.Fatalf("removed monitor came back")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	probed := make(chan struct{}, 1)
	f := newFixture(t, probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		select {
		case probed <- struct{}{}:
		default:
		}
		return okOutcome()
	}), "https://a.example")
	f.sched.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(stopped)
	}()

	select {
	case <-probed:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass never ran")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ZeroIntervalDisables(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, probe.CheckerFunc(func(context.Context, string) probe.Outcome {
		calls.Add(1)
		return okOutcome()
	}), "https://a.example")
	f.sched.Interval = 0
	f.sched.Run(context.Background())
	if calls.Load() != 0 {
		t.Fatalf("disabled scheduler probed %d times", calls.Load())
	}
}
