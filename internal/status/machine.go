// Package status turns raw probe outcomes into debounced, confirmed
// availability transitions.
//
// A failing monitor first enters down_pending. It is only confirmed down
// once the failure streak has lasted at least the grace period and a
// confirmation re-probe also fails. At most one down event is emitted per
// outage and one recovered event per recovery.
package status

import (
	"context"
	"time"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/probe"
)

const (
	DefaultGrace     = 2 * time.Minute
	DefaultHeartbeat = 30 * time.Minute
)

type Machine struct {
	// Grace is how long a failure streak must last before confirmation.
	Grace time.Duration
	// Heartbeat forces a fresh UP sample for steady monitors so charts
	// stay continuous. Zero disables it.
	Heartbeat time.Duration
	// Confirm runs the re-probe at the grace boundary. When nil the
	// streak is confirmed without a re-probe.
	Confirm probe.Checker
}

func NewMachine(grace, heartbeat time.Duration, confirm probe.Checker) *Machine {
	if grace < 0 {
		grace = 0
	}
	if heartbeat < 0 {
		heartbeat = 0
	}
	return &Machine{Grace: grace, Heartbeat: heartbeat, Confirm: confirm}
}

// Input is everything Step needs about one monitor for one tick.
type Input struct {
	URL     string
	State   domain.State
	Outcome probe.Outcome
	Last    *domain.Sample // newest stored sample, nil when history is empty
	Now     time.Time
}

// Transition is the result of one Step. Nothing is applied until the
// caller commits it.
type Transition struct {
	Prev   domain.State
	Next   domain.State
	Sample *domain.Sample // sample to append, nil when compacted away
	Event  domain.EventKind

	// Reprobed is set when a confirmation re-probe ran; Confirmation holds
	// its outcome.
	Reprobed     bool
	Confirmation probe.Outcome
}

// Changed reports whether the transition mutates the monitor.
func (t Transition) Changed() bool {
	return t.Sample != nil || t.Prev.Status != t.Next.Status ||
		t.Prev.AlertSent != t.Next.AlertSent || !sameTime(t.Prev.DownSince, t.Next.DownSince)
}

// Step applies the debounce policy to one probe outcome.
func (m *Machine) Step(ctx context.Context, in Input) Transition {
	tr := Transition{Prev: in.State, Next: in.State}
	now := in.Now
	cur := in.State

	if in.Outcome.OK {
		if cur.Status != domain.StatusUp {
			tr.Next = up()
			tr.Sample = sample(domain.UpSample(now, in.Outcome.LatencyMS))
			if cur.Status == domain.StatusDownConfirmed {
				tr.Event = domain.EventRecovered
			}
			return tr
		}
		if m.needsUpSample(in.Last, now) {
			tr.Sample = sample(domain.UpSample(now, in.Outcome.LatencyMS))
		}
		return tr
	}

	if cur.DownSince == nil {
		ds := now
		tr.Next = domain.State{Status: domain.StatusDownPending, DownSince: &ds}
		tr.Sample = sample(domain.DownSample(now))
		return tr
	}

	if cur.Status == domain.StatusDownConfirmed {
		tr.Sample = compactDown(in.Last, now)
		return tr
	}

	if now.Sub(*cur.DownSince) < m.Grace || cur.AlertSent {
		tr.Next.Status = domain.StatusDownPending
		tr.Sample = compactDown(in.Last, now)
		return tr
	}

	if m.Confirm != nil {
		tr.Reprobed = true
		tr.Confirmation = m.Confirm.Check(ctx, in.URL)
		if tr.Confirmation.OK {
			tr.Next = up()
			tr.Sample = sample(domain.UpSample(now, tr.Confirmation.LatencyMS))
			return tr
		}
	}

	tr.Next = domain.State{Status: domain.StatusDownConfirmed, DownSince: cur.DownSince, AlertSent: true}
	tr.Sample = sample(domain.DownSample(now))
	tr.Event = domain.EventDown
	return tr
}

func (m *Machine) needsUpSample(last *domain.Sample, now time.Time) bool {
	if last == nil || last.Status != domain.SampleUp {
		return true
	}
	return m.Heartbeat > 0 && now.Sub(last.Timestamp) >= m.Heartbeat
}

func compactDown(last *domain.Sample, now time.Time) *domain.Sample {
	if last != nil && last.Status == domain.SampleDown {
		return nil
	}
	return sample(domain.DownSample(now))
}

func up() domain.State { return domain.State{Status: domain.StatusUp} }

func sample(s domain.Sample) *domain.Sample { return &s }

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
