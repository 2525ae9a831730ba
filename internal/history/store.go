// Package history keeps a bounded availability timeline per monitor.
package history

import (
	"sync"

	"github.com/hamed0406/sitepulse/internal/domain"
)

const DefaultCapacity = 500

// Timeline is a fixed-capacity ring of samples. The oldest sample is
// overwritten once the ring is full.
type Timeline struct {
	buf   []domain.Sample
	start int
	n     int
}

func NewTimeline(capacity int) *Timeline {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Timeline{buf: make([]domain.Sample, capacity)}
}

func (t *Timeline) Len() int { return t.n }
func (t *Timeline) Cap() int { return len(t.buf) }

func (t *Timeline) Append(s domain.Sample) {
	if t.n < len(t.buf) {
		t.buf[(t.start+t.n)%len(t.buf)] = s
		t.n++
		return
	}
	t.buf[t.start] = s
	t.start = (t.start + 1) % len(t.buf)
}

func (t *Timeline) Last() (domain.Sample, bool) {
	if t.n == 0 {
		return domain.Sample{}, false
	}
	return t.buf[(t.start+t.n-1)%len(t.buf)], true
}

// Samples returns the timeline oldest-first as a fresh slice.
func (t *Timeline) Samples() []domain.Sample {
	out := make([]domain.Sample, t.n)
	for i := 0; i < t.n; i++ {
		out[i] = t.buf[(t.start+i)%len(t.buf)]
	}
	return out
}

// Store owns one Timeline per monitor.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	timelines map[domain.MonitorID]*Timeline
}

func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, timelines: make(map[domain.MonitorID]*Timeline)}
}

func (s *Store) Capacity() int { return s.capacity }

func (s *Store) Append(id domain.MonitorID, sample domain.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl := s.timelines[id]
	if tl == nil {
		tl = NewTimeline(s.capacity)
		s.timelines[id] = tl
	}
	tl.Append(sample)
}

func (s *Store) Last(id domain.MonitorID) (domain.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl := s.timelines[id]
	if tl == nil {
		return domain.Sample{}, false
	}
	return tl.Last()
}

func (s *Store) Len(id domain.MonitorID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tl := s.timelines[id]; tl != nil {
		return tl.Len()
	}
	return 0
}

// Samples returns a copy of the monitor's timeline, oldest first.
func (s *Store) Samples(id domain.MonitorID) []domain.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tl := s.timelines[id]
	if tl == nil {
		return []domain.Sample{}
	}
	return tl.Samples()
}

// Seed replaces the timeline with persisted samples, keeping the newest
// Capacity() of them.
func (s *Store) Seed(id domain.MonitorID, samples []domain.Sample) {
	tl := NewTimeline(s.capacity)
	if extra := len(samples) - s.capacity; extra > 0 {
		samples = samples[extra:]
	}
	for _, smp := range samples {
		tl.Append(smp)
	}
	s.mu.Lock()
	s.timelines[id] = tl
	s.mu.Unlock()
}

func (s *Store) Forget(id domain.MonitorID) {
	s.mu.Lock()
	delete(s.timelines, id)
	s.mu.Unlock()
}
