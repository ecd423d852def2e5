package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"camrelay/internal/config"
	"camrelay/internal/models"
)

// PreloadRelay is the supervisor surface the preload scheduler drives.
type PreloadRelay interface {
	EnsureWatching(ctx context.Context, channelID, source string, shape *models.OutputShape) (string, error)
	SetPreload(channelID string, preload bool)
	ReleasePreload(ctx context.Context, channelID string) error
}

// RecordRelay is the supervisor surface the record scheduler drives.
type RecordRelay interface {
	EnableRecording(ctx context.Context, channelID, source string, shape *models.OutputShape, cfg models.RecordingConfig, plannedEnd time.Time) (string, error)
	DisableRecording(ctx context.Context, channelID string) error
}

// PreloadActions starts channels ahead of expected viewers and marks them
// exempt from idle reaping for the duration of their window.
type PreloadActions struct {
	Relay  PreloadRelay
	Source config.Repository
	Logger *slog.Logger
}

func (a *PreloadActions) Enter(ctx context.Context, entry models.ScheduleEntry) error {
	ch, err := a.Source.Channel(ctx, entry.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve channel %s: %w", entry.ChannelID, err)
	}
	// Mark before starting so a reaper sweep during the readiness window
	// cannot tear the fresh process down.
	a.Relay.SetPreload(entry.ChannelID, true)
	if _, err := a.Relay.EnsureWatching(ctx, entry.ChannelID, ch.SourceAddress, ch.OutputShape); err != nil {
		return fmt.Errorf("preload %s: %w", entry.ChannelID, err)
	}
	return nil
}

func (a *PreloadActions) Exit(ctx context.Context, entry models.ScheduleEntry) error {
	return a.Relay.ReleasePreload(ctx, entry.ChannelID)
}

// RecordActions enables and disables scheduled recordings.
type RecordActions struct {
	Relay    RecordRelay
	Source   config.Repository
	Defaults models.RecordingConfig
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

func (a *RecordActions) Enter(ctx context.Context, entry models.ScheduleEntry) error {
	ch, err := a.Source.Channel(ctx, entry.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve channel %s: %w", entry.ChannelID, err)
	}
	cfg := a.Defaults
	if cfg.Title == "" {
		cfg.Title = ch.Title
	}
	if _, err := a.Relay.EnableRecording(ctx, entry.ChannelID, ch.SourceAddress, ch.OutputShape, cfg, a.plannedEnd(entry)); err != nil {
		return fmt.Errorf("enable scheduled recording %s: %w", entry.ChannelID, err)
	}
	return nil
}

func (a *RecordActions) Exit(ctx context.Context, entry models.ScheduleEntry) error {
	return a.Relay.DisableRecording(ctx, entry.ChannelID)
}

func (a *RecordActions) plannedEnd(entry models.ScheduleEntry) time.Time {
	end, err := models.ParseClock(entry.EndTime)
	if err != nil {
		return time.Time{}
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	loc := a.Location
	if loc == nil {
		loc = time.Local
	}
	return nextClock(now, end, loc)
}
