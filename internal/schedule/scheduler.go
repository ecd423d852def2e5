// Package schedule turns daily HH:MM windows into supervisor actions. Two
// scheduler instances run side by side: one preloads channels ahead of
// expected viewers, the other drives the recording pipeline.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"camrelay/internal/config"
	"camrelay/internal/models"
	"camrelay/internal/observability/metrics"
)

// Actions is the pair of operations a scheduler instance fires at window
// edges. Implementations live in actions.go; tests substitute recorders.
type Actions interface {
	Enter(ctx context.Context, entry models.ScheduleEntry) error
	Exit(ctx context.Context, entry models.ScheduleEntry) error
}

// WorkdayChecker gates workdaysOnly entries.
type WorkdayChecker interface {
	IsWorkday(ctx context.Context, date time.Time) (bool, error)
}

// Config assembles one Scheduler instance.
type Config struct {
	Kind     models.ScheduleKind
	Source   config.Repository
	Actions  Actions
	Workdays WorkdayChecker
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Now      func() time.Time
}

// Scheduler owns the cron triggers for one schedule kind. Reload and
// ReloadSingle replace triggers wholesale for the affected channels and
// immediately converge their window membership, so a restart or a mid-window
// config push takes effect without waiting for the next boundary.
type Scheduler struct {
	kind     models.ScheduleKind
	source   config.Repository
	actions  Actions
	workdays WorkdayChecker
	loc      *time.Location
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
	cron     *cron.Cron

	mu       sync.Mutex
	entries  map[string]models.ScheduleEntry
	triggers map[string][]cron.EntryID
}

// New builds a Scheduler. Call Start to begin firing triggers.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("schedule source is required")
	}
	if cfg.Actions == nil {
		return nil, fmt.Errorf("schedule actions are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		kind:     cfg.Kind,
		source:   cfg.Source,
		actions:  cfg.Actions,
		workdays: cfg.Workdays,
		loc:      cfg.Location,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		cron:     cron.New(cron.WithLocation(cfg.Location)),
		entries:  make(map[string]models.ScheduleEntry),
		triggers: make(map[string][]cron.EntryID),
	}, nil
}

// Start begins trigger dispatch.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts trigger dispatch and waits for in-flight firings.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reload fetches the full entry set for this scheduler's kind, replaces all
// triggers, and converges every channel's current window membership.
func (s *Scheduler) Reload(ctx context.Context) error {
	entries, err := s.source.ScheduleEntries(ctx, s.kind)
	if err != nil {
		return fmt.Errorf("load %s schedule: %w", s.kind, err)
	}

	byChannel := make(map[string]models.ScheduleEntry, len(entries))
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			s.logger.Warn("skipping invalid schedule entry",
				"kind", string(s.kind), "channel_id", entry.ChannelID, "error", err)
			continue
		}
		byChannel[entry.ChannelID] = entry
	}

	s.mu.Lock()
	previous := s.entries
	s.entries = byChannel
	for channelID := range previous {
		s.removeTriggersLocked(channelID)
	}
	for _, entry := range byChannel {
		if entry.Enabled {
			s.installTriggersLocked(entry)
		}
	}
	s.mu.Unlock()

	for channelID, entry := range previous {
		if _, still := byChannel[channelID]; !still {
			s.converge(ctx, entry, false)
		}
	}
	for _, entry := range byChannel {
		s.converge(ctx, entry, entry.Enabled)
	}
	s.logger.Info("schedule loaded", "kind", string(s.kind), "entries", len(byChannel))
	return nil
}

// ReloadSingle replaces one channel's entry and triggers without touching any
// other channel. A disabled or zero-window entry tears the channel's
// scheduled state down.
func (s *Scheduler) ReloadSingle(ctx context.Context, entry models.ScheduleEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.removeTriggersLocked(entry.ChannelID)
	s.entries[entry.ChannelID] = entry
	if entry.Enabled {
		s.installTriggersLocked(entry)
	}
	s.mu.Unlock()

	s.converge(ctx, entry, entry.Enabled)
	return nil
}

// RemoveSingle drops a channel from the schedule entirely.
func (s *Scheduler) RemoveSingle(ctx context.Context, channelID string) {
	s.mu.Lock()
	entry, known := s.entries[channelID]
	s.removeTriggersLocked(channelID)
	delete(s.entries, channelID)
	s.mu.Unlock()
	if known {
		s.converge(ctx, entry, false)
	}
}

func (s *Scheduler) removeTriggersLocked(channelID string) {
	for _, id := range s.triggers[channelID] {
		s.cron.Remove(id)
	}
	delete(s.triggers, channelID)
}

func (s *Scheduler) installTriggersLocked(entry models.ScheduleEntry) {
	start, _ := models.ParseClock(entry.StartTime)
	end, _ := models.ParseClock(entry.EndTime)

	startID, err := s.cron.AddFunc(cronSpec(start), func() { s.fireStart(entry) })
	if err != nil {
		s.logger.Error("install start trigger", "channel_id", entry.ChannelID, "error", err)
		return
	}
	endID, err := s.cron.AddFunc(cronSpec(end), func() { s.fireEnd(entry) })
	if err != nil {
		s.cron.Remove(startID)
		s.logger.Error("install end trigger", "channel_id", entry.ChannelID, "error", err)
		return
	}
	s.triggers[entry.ChannelID] = []cron.EntryID{startID, endID}
}

func cronSpec(minuteOfDay int) string {
	return fmt.Sprintf("%d %d * * *", minuteOfDay%60, minuteOfDay/60)
}

func (s *Scheduler) fireStart(entry models.ScheduleEntry) {
	ctx := context.Background()
	s.metrics.ObserveScheduleFiring(string(s.kind), "start")
	if !s.workdayAllows(ctx, entry) {
		s.logger.Info("start trigger suppressed on non-workday",
			"kind", string(s.kind), "channel_id", entry.ChannelID)
		return
	}
	if err := s.actions.Enter(ctx, entry); err != nil {
		s.logger.Error("window start action",
			"kind", string(s.kind), "channel_id", entry.ChannelID, "error", err)
	}
}

func (s *Scheduler) fireEnd(entry models.ScheduleEntry) {
	ctx := context.Background()
	s.metrics.ObserveScheduleFiring(string(s.kind), "end")
	if err := s.actions.Exit(ctx, entry); err != nil {
		s.logger.Error("window end action",
			"kind", string(s.kind), "channel_id", entry.ChannelID, "error", err)
	}
}

// workdayAllows applies the workdaysOnly gate. Classifier failure degrades to
// allow; a legitimate schedule must never be skipped because the calendar
// was unreachable.
func (s *Scheduler) workdayAllows(ctx context.Context, entry models.ScheduleEntry) bool {
	if !entry.WorkdaysOnly || s.workdays == nil {
		return true
	}
	workday, err := s.workdays.IsWorkday(ctx, s.now().In(s.loc))
	if err != nil {
		s.logger.Warn("workday check failed, allowing window",
			"channel_id", entry.ChannelID, "error", err)
		return true
	}
	return workday
}

// converge applies the entry's *current* window membership immediately.
func (s *Scheduler) converge(ctx context.Context, entry models.ScheduleEntry, enabled bool) {
	inside := enabled && entryContains(entry, s.now().In(s.loc))
	if inside && !s.workdayAllows(ctx, entry) {
		inside = false
	}
	var err error
	if inside {
		err = s.actions.Enter(ctx, entry)
	} else {
		err = s.actions.Exit(ctx, entry)
	}
	if err != nil {
		s.logger.Error("schedule convergence",
			"kind", string(s.kind), "channel_id", entry.ChannelID,
			"inside", inside, "error", err)
	}
}
