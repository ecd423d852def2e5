package supervisor

import (
	"context"
	"time"

	"camrelay/internal/models"
)

// EnableRecording ensures a dual-output process (live HLS plus an on-disk
// recording) is running for the channel. If the channel is already recording
// only the stored configuration is refreshed; an existing plain process is
// restarted with the recording leg attached.
func (s *Supervisor) EnableRecording(ctx context.Context, channelID, source string, shape *models.OutputShape, recCfg models.RecordingConfig, plannedEnd time.Time) (string, error) {
	recCfg, err := recCfg.Normalize()
	if err != nil {
		return "", err
	}

	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	rec := s.records[channelID]
	s.mu.Unlock()

	if rec != nil && rec.session != nil {
		rec.recCfg = recCfg
		return rec.playbackURL, nil
	}

	if rec != nil {
		s.logger.Info("restarting channel with recording output", "channel_id", channelID)
		s.stopRecordLocked(ctx, channelID, rec, false)
		s.metrics.ProcessRestarted()
		source = rec.source
		shape = rec.shape
	}
	return s.startLocked(ctx, channelID, source, shape, &recCfg, plannedEnd)
}

// DisableRecording ends the channel's recording, finalizing whatever is in
// progress. If a viewer heartbeat is still fresh or the channel is preloaded
// the process is respawned without the recording leg; otherwise it stays
// down.
func (s *Supervisor) DisableRecording(ctx context.Context, channelID string) error {
	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	rec := s.records[channelID]
	delete(s.recordingSet, channelID)
	_, preloaded := s.preload[channelID]
	last, hasHeartbeat := s.heartbeats[channelID]
	s.mu.Unlock()

	if rec == nil || rec.session == nil {
		return nil
	}

	s.stopRecordLocked(ctx, channelID, rec, true)

	keepAlive := preloaded || (hasHeartbeat && s.now().Sub(last) < s.heartbeatTimeout)
	if !keepAlive {
		return nil
	}
	s.logger.Info("respawning channel without recording output", "channel_id", channelID)
	s.metrics.ProcessRestarted()
	_, err := s.startLocked(ctx, channelID, rec.source, rec.shape, nil, time.Time{})
	return err
}
