package models

import (
	"fmt"
	"strings"
	"time"
)

// OutputShape selects an aspect-ratio transform applied to a channel's video
// before it is split into outputs. A nil *OutputShape means passthrough.
type OutputShape struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Validate reports whether the shape describes a usable geometry.
func (s *OutputShape) Validate() error {
	if s == nil {
		return nil
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("output shape requires positive dimensions, got %dx%d", s.Width, s.Height)
	}
	return nil
}

// Equal compares two possibly-nil shapes.
func (s *OutputShape) Equal(other *OutputShape) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return s.Width == other.Width && s.Height == other.Height
}

// String renders the shape as WxH, or "passthrough" when nil.
func (s *OutputShape) String() string {
	if s == nil {
		return "passthrough"
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ChannelConfig is the upstream description of a channel's feed.
type ChannelConfig struct {
	ChannelID     string       `json:"channelId"`
	Title         string       `json:"title,omitempty"`
	SourceAddress string       `json:"sourceAddress"`
	OutputShape   *OutputShape `json:"outputShape,omitempty"`
}

// ScheduleKind distinguishes the two scheduler instances.
type ScheduleKind string

const (
	SchedulePreload ScheduleKind = "preload"
	ScheduleRecord  ScheduleKind = "record"
)

// ScheduleEntry describes one channel's daily time window. EndTime may be
// numerically earlier than StartTime, which marks a window that crosses
// midnight.
type ScheduleEntry struct {
	ChannelID    string `json:"channelId"`
	StartTime    string `json:"startTime"` // HH:MM local
	EndTime      string `json:"endTime"`   // HH:MM local
	WorkdaysOnly bool   `json:"workdaysOnly"`
	Enabled      bool   `json:"enabled"`
}

// ParseClock converts an HH:MM string into a minute-of-day value.
func ParseClock(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	var h, m int
	if _, err := fmt.Sscanf(trimmed, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", value)
	}
	return h*60 + m, nil
}

// Validate checks the entry's identifiers and clock strings.
func (e ScheduleEntry) Validate() error {
	if strings.TrimSpace(e.ChannelID) == "" {
		return fmt.Errorf("schedule entry requires a channel id")
	}
	if _, err := ParseClock(e.StartTime); err != nil {
		return err
	}
	if _, err := ParseClock(e.EndTime); err != nil {
		return err
	}
	return nil
}

// RecordingMode selects how recording output is partitioned into files.
type RecordingMode string

const (
	// RecordSingleFile writes one recording file per enable/disable session.
	RecordSingleFile RecordingMode = "single"
	// RecordSegmented rotates to a new file every SegmentMinutes.
	RecordSegmented RecordingMode = "segmented"
)

// RecordingConfig parameterizes the recording output of a channel process.
type RecordingConfig struct {
	Mode           RecordingMode `json:"mode"`
	SegmentMinutes int           `json:"segmentMinutes,omitempty"`
	Title          string        `json:"title,omitempty"`
}

// Normalize fills defaults and validates the mode.
func (c RecordingConfig) Normalize() (RecordingConfig, error) {
	switch c.Mode {
	case "", RecordSingleFile:
		c.Mode = RecordSingleFile
	case RecordSegmented:
		if c.SegmentMinutes <= 0 {
			c.SegmentMinutes = 30
		}
	default:
		return c, fmt.Errorf("unknown recording mode %q", c.Mode)
	}
	return c, nil
}

// SegmentDuration returns the rotation period for segmented recordings.
func (c RecordingConfig) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentMinutes) * time.Minute
}

// SystemStatus is the control plane's observable summary.
type SystemStatus struct {
	ActiveProcessCount   int `json:"activeProcessCount"`
	LiveHeartbeatCount   int `json:"liveHeartbeatCount"`
	ActiveRecordingCount int `json:"activeRecordingCount"`
}

// ChannelStatus describes one supervised channel.
type ChannelStatus struct {
	ChannelID     string       `json:"channelId"`
	SourceAddress string       `json:"sourceAddress"`
	OutputShape   *OutputShape `json:"outputShape,omitempty"`
	StartedAt     time.Time    `json:"startedAt"`
	Preload       bool         `json:"preload"`
	Recording     bool         `json:"recording"`
	PlaybackURL   string       `json:"playbackUrl"`
}
