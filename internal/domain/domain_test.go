package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMonitor_JSONShape(t *testing.T) {
	ds := time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)
	lat := int64(42)
	m := Monitor{
		ID:        "m1",
		Name:      "Example",
		URL:       "https://example.com",
		Status:    StatusDownPending,
		DownSince: &ds,
		History: []Sample{
			UpSample(ds.Add(-time.Minute), &lat),
			DownSample(ds),
		},
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, k := range []string{"id", "name", "url", "status", "history", "downSince", "alertSent"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("missing key %q in %s", k, b)
		}
	}
	if raw["status"] != "down_pending" {
		t.Fatalf("status encoded as %v", raw["status"])
	}

	var got Monitor
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusDownPending || got.DownSince == nil || !got.DownSince.Equal(ds) {
		t.Fatalf("state mismatch: %+v", got)
	}
	if len(got.History) != 2 || *got.History[0].LatencyMS != 42 || got.History[1].LatencyMS != nil {
		t.Fatalf("history mismatch: %+v", got.History)
	}
}

func TestStatus_RejectsUnknownValue(t *testing.T) {
	var m Monitor
	err := json.Unmarshal([]byte(`{"id":"x","name":"n","url":"u","status":"sideways"}`), &m)
	if err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestSampleStatus_AcceptsLegacyUpperCase(t *testing.T) {
	var s Sample
	if err := json.Unmarshal([]byte(`{"status":"DOWN","timestamp":"2025-01-01T00:00:00Z"}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Status != SampleDown {
		t.Fatalf("want down, got %q", s.Status)
	}
}

func TestMonitor_Validate(t *testing.T) {
	ok := Monitor{ID: "a", Name: "n", URL: "https://x"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := Monitor{ID: "a", URL: "https://x"}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidMonitor) {
		t.Fatalf("want ErrInvalidMonitor, got %v", err)
	}
}

func TestMonitor_NormalizeRepairsInvariants(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := now.Add(-time.Hour)

	cases := []struct {
		name string
		in   Monitor
		want State
	}{
		{"up with downSince", Monitor{Status: StatusUp, DownSince: &ds, AlertSent: true}, State{Status: StatusUp}},
		{"pending without downSince", Monitor{Status: StatusDownPending, AlertSent: true}, State{Status: StatusDownPending, DownSince: &now}},
		{"confirmed without alert flag", Monitor{Status: StatusDownConfirmed, DownSince: &ds}, State{Status: StatusDownConfirmed, DownSince: &ds, AlertSent: true}},
		{"empty status", Monitor{}, State{Status: StatusUnknown}},
	}
	for _, tc := range cases {
		m := tc.in
		if !m.Normalize(now) {
			t.Fatalf("%s: expected a repair", tc.name)
		}
		got := m.State()
		if got.Status != tc.want.Status || got.AlertSent != tc.want.AlertSent {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
		if (got.DownSince == nil) != (tc.want.DownSince == nil) {
			t.Fatalf("%s: downSince got %v want %v", tc.name, got.DownSince, tc.want.DownSince)
		}
		if got.DownSince != nil && !got.DownSince.Equal(*tc.want.DownSince) {
			t.Fatalf("%s: downSince got %v want %v", tc.name, *got.DownSince, *tc.want.DownSince)
		}
	}

	clean := Monitor{Status: StatusUp}
	if clean.Normalize(now) {
		t.Fatalf("clean record should not change")
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		channel Channel
		wantErr bool
	}{
		{" Ops@Example.com ", "ops@example.com", ChannelEmail, false},
		{"tg:12345", "tg:12345", ChannelTelegram, false},
		{"TG:-100200", "tg:-100200", ChannelTelegram, false},
		{"https://hooks.slack.com/services/T/B/X", "https://hooks.slack.com/services/T/B/X", ChannelSlack, false},
		{"no-at-sign", "", "", true},
		{"@example.com", "", "", true},
		{"tg:abc", "", "", true},
		{"", "", "", true},
	}
	for _, tc := range cases {
		got, ch, err := NormalizeAddress(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidSubscriber) {
				t.Fatalf("%q: want ErrInvalidSubscriber, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want || ch != tc.channel {
			t.Fatalf("%q: got (%q,%q,%v) want (%q,%q)", tc.in, got, ch, err, tc.want, tc.channel)
		}
	}

	id, err := TelegramChatID("tg:777")
	if err != nil || id != 777 {
		t.Fatalf("chat id: %d %v", id, err)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://EXAMPLE.com/":       "https://example.com",
		"example.com":                "https://example.com",
		"HTTP://Example.com/a/b?x=1": "http://example.com/a/b?x=1",
		"https://example.com/#top":   "https://example.com",
		"http://example.com:80":      "http://example.com",
		"https://example.com:443/":   "https://example.com",
		"https://example.com:8443/":  "https://example.com:8443",
		"https://example.com/p/":     "https://example.com/p/",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "ftp://example.com", "https://"} {
		if _, err := NormalizeURL(bad); !errors.Is(err, ErrInvalidMonitor) {
			t.Fatalf("%q: want ErrInvalidMonitor, got %v", bad, err)
		}
	}
}
