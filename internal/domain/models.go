package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type MonitorID string

// Status is the debounced availability state of a monitor.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusUp            Status = "up"
	StatusDownPending   Status = "down_pending"
	StatusDownConfirmed Status = "down_confirmed"
)

var ErrInvalidMonitor = errors.New("invalid monitor")

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusUnknown, StatusUp, StatusDownPending, StatusDownConfirmed:
		return st, nil
	case "":
		return StatusUnknown, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil && s != ""
}

// IsDown reports whether the status belongs to a downtime episode.
func (s Status) IsDown() bool {
	return s == StatusDownPending || s == StatusDownConfirmed
}

func (s Status) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(StatusUnknown), nil
	}
	return []byte(s), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// State is the part of a Monitor owned by the status machine.
type State struct {
	Status    Status
	DownSince *time.Time
	AlertSent bool
}

type Monitor struct {
	ID          MonitorID  `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Status      Status     `json:"status"`
	History     []Sample   `json:"history"`
	DownSince   *time.Time `json:"downSince"`
	AlertSent   bool       `json:"alertSent"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
}

func (m Monitor) State() State {
	return State{Status: m.Status, DownSince: m.DownSince, AlertSent: m.AlertSent}
}

func (m *Monitor) Apply(s State) {
	m.Status = s.Status
	m.DownSince = s.DownSince
	m.AlertSent = s.AlertSent
}

// Validate rejects records the engine cannot probe.
func (m Monitor) Validate() error {
	switch {
	case strings.TrimSpace(string(m.ID)) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidMonitor)
	case strings.TrimSpace(m.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidMonitor)
	case strings.TrimSpace(m.URL) == "":
		return fmt.Errorf("%w: empty url", ErrInvalidMonitor)
	case m.Status != "" && !m.Status.Valid():
		return fmt.Errorf("%w: status %q", ErrInvalidMonitor, m.Status)
	}
	return nil
}

// Normalize repairs a loaded record so that downSince is set exactly while
// the monitor is down and alertSent only while the outage is confirmed.
// It reports whether anything changed.
func (m *Monitor) Normalize(now time.Time) bool {
	changed := false
	if m.Status == "" {
		m.Status = StatusUnknown
		changed = true
	}
	if m.Status.IsDown() && m.DownSince == nil {
		t := now
		m.DownSince = &t
		changed = true
	}
	if !m.Status.IsDown() && m.DownSince != nil {
		m.DownSince = nil
		changed = true
	}
	if m.AlertSent && m.Status != StatusDownConfirmed {
		m.AlertSent = false
		changed = true
	}
	if m.Status == StatusDownConfirmed && !m.AlertSent {
		m.AlertSent = true
		changed = true
	}
	return changed
}

// Clone returns a deep copy safe to hand to readers.
func (m Monitor) Clone() Monitor {
	out := m
	if m.DownSince != nil {
		t := *m.DownSince
		out.DownSince = &t
	}
	if m.LastChecked != nil {
		t := *m.LastChecked
		out.LastChecked = &t
	}
	if m.History != nil {
		out.History = make([]Sample, len(m.History))
		copy(out.History, m.History)
	}
	return out
}

// EventKind names a confirmed transition worth notifying about.
type EventKind string

const (
	EventDown      EventKind = "down"
	EventRecovered EventKind = "recovered"
)
