package supervisor

import (
	"context"
	"time"
)

// DefaultReapInterval is how often the idle sweep runs.
const DefaultReapInterval = 30 * time.Second

// RunReaper periodically stops processes nobody is watching. Preloaded and
// recording channels are exempt. Blocks until ctx is cancelled.
func (s *Supervisor) RunReaper(ctx context.Context, interval time.Duration) {
	s.runReaperWithTicker(ctx, func() (<-chan time.Time, func()) {
		ticker := time.NewTicker(interval)
		return ticker.C, ticker.Stop
	})
}

func (s *Supervisor) runReaperWithTicker(ctx context.Context, tickerFactory func() (<-chan time.Time, func())) {
	tick, stop := tickerFactory()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.reapIdle(ctx)
		}
	}
}

func (s *Supervisor) reapIdle(ctx context.Context) {
	for _, channelID := range s.idleChannels() {
		// Re-check right before stopping; a heartbeat or recording start
		// may have landed while earlier channels were being torn down.
		if !s.isIdle(channelID) {
			continue
		}
		s.logger.Info("reaping idle channel", "channel_id", channelID)
		if err := s.Stop(ctx, channelID); err != nil {
			s.logger.Warn("reap channel", "channel_id", channelID, "error", err)
			continue
		}
		s.metrics.ProcessReaped()
	}
}

func (s *Supervisor) idleChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idle := make([]string, 0)
	for id := range s.records {
		if s.idleLocked(id) {
			idle = append(idle, id)
		}
	}
	return idle
}

func (s *Supervisor) isIdle(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[channelID]; !ok {
		return false
	}
	return s.idleLocked(channelID)
}

func (s *Supervisor) idleLocked(channelID string) bool {
	if _, ok := s.preload[channelID]; ok {
		return false
	}
	if _, ok := s.recordingSet[channelID]; ok {
		return false
	}
	// Only channels with a heartbeat history are swept; a record that has
	// never seen a heartbeat (a watch whose consumer has not reported yet)
	// is left alone.
	last, ok := s.heartbeats[channelID]
	if !ok {
		return false
	}
	return s.now().Sub(last) >= s.heartbeatTimeout
}
