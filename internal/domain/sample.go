package domain

import (
	"fmt"
	"time"
)

type SampleStatus string

const (
	SampleUp   SampleStatus = "up"
	SampleDown SampleStatus = "down"
)

func (s *SampleStatus) UnmarshalText(b []byte) error {
	switch v := SampleStatus(b); v {
	case SampleUp, SampleDown:
		*s = v
		return nil
	// older records stored the monitor status in upper case
	case "UP":
		*s = SampleUp
		return nil
	case "DOWN":
		*s = SampleDown
		return nil
	}
	return fmt.Errorf("unknown sample status %q", string(b))
}

// Sample is one point on a monitor's availability timeline.
type Sample struct {
	Status    SampleStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	LatencyMS *int64       `json:"latencyMs,omitempty"` // nil when the probe failed
}

func UpSample(at time.Time, latencyMS *int64) Sample {
	return Sample{Status: SampleUp, Timestamp: at, LatencyMS: latencyMS}
}

func DownSample(at time.Time) Sample {
	return Sample{Status: SampleDown, Timestamp: at}
}
