// Package supervisor owns the mapping from channel identifier to a running
// transcoding process. It starts processes, restarts them when their source
// or output shape drifts, reaps idle ones, and hosts the recording pipeline's
// process-side hooks.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"camrelay/internal/models"
	"camrelay/internal/observability/metrics"
	"camrelay/internal/recording"
)

// Config assembles a Supervisor.
type Config struct {
	FFmpegPath    string
	OutputRoot    string
	RecordingRoot string
	PublicBaseURL string

	ReadinessTimeout time.Duration
	KillGracePeriod  time.Duration
	HeartbeatTimeout time.Duration

	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Runner    Runner
	Probe     ReadinessProbe
	Finalizer *recording.Finalizer
	Now       func() time.Time
}

type channelRecord struct {
	channelID   string
	source      string
	shape       *models.OutputShape
	handle      Handle
	mark        *stopMark
	startedAt   time.Time
	outputDir   string
	playbackURL string
	ready       bool

	session *recording.Session
	recCfg  models.RecordingConfig
}

// Supervisor keeps at most one live process per channel. All state is guarded
// by mu; operations that start or stop a given channel additionally serialize
// on that channel's own lock so drift repairs cannot race.
type Supervisor struct {
	ffmpegPath    string
	outputRoot    string
	recordingRoot string
	publicBase    string

	readinessTimeout time.Duration
	killGrace        time.Duration
	heartbeatTimeout time.Duration

	logger    *slog.Logger
	metrics   *metrics.Recorder
	runner    Runner
	probe     ReadinessProbe
	finalizer *recording.Finalizer
	now       func() time.Time

	mu           sync.Mutex
	records      map[string]*channelRecord
	heartbeats   map[string]time.Time
	preload      map[string]struct{}
	recordingSet map[string]struct{}
	locks        map[string]*sync.Mutex
	probeCancels map[string]context.CancelFunc
}

// New builds a Supervisor, filling defaults for optional fields.
func New(cfg Config) (*Supervisor, error) {
	if strings.TrimSpace(cfg.OutputRoot) == "" {
		return nil, errors.New("output root is required")
	}
	outputRoot, err := filepath.Abs(cfg.OutputRoot)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, err
	}
	s := &Supervisor{
		ffmpegPath:       cfg.FFmpegPath,
		outputRoot:       outputRoot,
		recordingRoot:    cfg.RecordingRoot,
		publicBase:       strings.TrimRight(cfg.PublicBaseURL, "/"),
		readinessTimeout: cfg.ReadinessTimeout,
		killGrace:        cfg.KillGracePeriod,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		runner:           cfg.Runner,
		probe:            cfg.Probe,
		finalizer:        cfg.Finalizer,
		now:              cfg.Now,
		records:          make(map[string]*channelRecord),
		heartbeats:       make(map[string]time.Time),
		preload:          make(map[string]struct{}),
		recordingSet:     make(map[string]struct{}),
		locks:            make(map[string]*sync.Mutex),
		probeCancels:     make(map[string]context.CancelFunc),
	}
	if s.ffmpegPath == "" {
		s.ffmpegPath = "ffmpeg"
	}
	if s.recordingRoot == "" {
		s.recordingRoot = filepath.Join(outputRoot, "recordings")
	}
	if s.readinessTimeout <= 0 {
		s.readinessTimeout = 30 * time.Second
	}
	if s.killGrace <= 0 {
		s.killGrace = 5 * time.Second
	}
	if s.heartbeatTimeout <= 0 {
		s.heartbeatTimeout = 60 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}
	if s.runner == nil {
		s.runner = NewExecRunner(s.logger)
	}
	if s.probe == nil {
		s.probe = NewReadinessProbe(s.readinessTimeout)
	}
	if s.finalizer == nil {
		s.finalizer = recording.NewFinalizer(recording.FinalizerConfig{
			Remuxer: recording.FFmpegRemuxer{Path: s.ffmpegPath},
			Logger:  s.logger,
			Metrics: s.metrics,
		})
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Supervisor) channelLock(channelID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[channelID] = lock
	}
	return lock
}

// EnsureWatching guarantees a process serving the given source and shape is
// alive for the channel and returns its playback locator. An unchanged call
// is a no-op; a changed source or shape stops the old process before the new
// one is spawned.
func (s *Supervisor) EnsureWatching(ctx context.Context, channelID, source string, shape *models.OutputShape) (string, error) {
	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	rec := s.records[channelID]
	s.mu.Unlock()

	if rec != nil && rec.source == source && rec.shape.Equal(shape) {
		if rec.ready {
			return rec.playbackURL, nil
		}
		// A previous start timed out; the process may have caught up since.
		return s.awaitReady(ctx, channelID, rec)
	}

	if rec != nil {
		s.logger.Info("configuration drift, restarting channel",
			"channel_id", channelID, "old_source", rec.source, "new_source", source,
			"old_shape", rec.shape.String(), "new_shape", shape.String())
		s.stopRecordLocked(ctx, channelID, rec, rec.session != nil)
		s.metrics.ProcessRestarted()
		// Recording survives a drift restart under a fresh session so the
		// finalized file names stay truthful about the covered time range.
		if rec.session != nil {
			return s.startLocked(ctx, channelID, source, shape, &rec.recCfg, time.Time{})
		}
	}
	return s.startLocked(ctx, channelID, source, shape, nil, time.Time{})
}

// startLocked spawns a process. The channel lock must be held.
func (s *Supervisor) startLocked(ctx context.Context, channelID, source string, shape *models.OutputShape, recCfg *models.RecordingConfig, plannedEnd time.Time) (string, error) {
	outputDir := filepath.Join(s.outputRoot, channelID)
	if err := os.RemoveAll(outputDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}

	var session *recording.Session
	var listener func(string)
	if recCfg != nil {
		var err error
		session, err = recording.NewSession(s.recordingRoot, channelID, *recCfg, s.now(), plannedEnd)
		if err != nil {
			return "", err
		}
		watcher := recording.NewWatcher(recording.RotationListenerFunc(func(opened string) {
			s.onSegmentOpened(channelID, session, opened)
		}))
		listener = func(line string) { watcher.ObserveLine(line) }
	}

	args, err := buildPlan(planInput{source: source, shape: shape, dir: outputDir, session: session})
	if err != nil {
		return "", err
	}

	handle, err := s.runner.Start(ctx, ProcessSpec{
		Command:      s.ffmpegPath,
		Args:         args,
		Label:        channelID,
		LineListener: listener,
	})
	if err != nil {
		return "", err
	}

	rec := &channelRecord{
		channelID:   channelID,
		source:      source,
		shape:       shape,
		handle:      handle,
		mark:        &stopMark{},
		startedAt:   s.now(),
		outputDir:   outputDir,
		playbackURL: s.playbackURL(channelID),
		session:     session,
	}
	if recCfg != nil {
		rec.recCfg = *recCfg
	}

	s.mu.Lock()
	s.records[channelID] = rec
	if recCfg != nil {
		s.recordingSet[channelID] = struct{}{}
	}
	s.mu.Unlock()

	go s.watchExit(channelID, rec)

	s.metrics.ProcessStarted()
	s.logger.Info("transcoder spawned",
		"channel_id", channelID, "source", source, "shape", shape.String(),
		"recording", recCfg != nil)

	return s.awaitReady(ctx, channelID, rec)
}

// awaitReady runs the readiness probe for a freshly spawned (or previously
// not-ready) record. The channel lock must be held.
func (s *Supervisor) awaitReady(ctx context.Context, channelID string, rec *channelRecord) (string, error) {
	probeCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.probeCancels[channelID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.probeCancels, channelID)
		s.mu.Unlock()
	}()

	started := time.Now()
	if err := s.probe.WaitReady(probeCtx, rec.outputDir); err != nil {
		// The process is left running for diagnostics; the record stays
		// but is not marked ready.
		s.logger.Error("readiness probe failed", "channel_id", channelID, "error", err)
		return "", err
	}
	s.metrics.ObserveReadiness(time.Since(started))

	s.mu.Lock()
	if current := s.records[channelID]; current == rec {
		rec.ready = true
	}
	s.mu.Unlock()
	return rec.playbackURL, nil
}

// Stop tears down the channel's process, its record, and its output
// directory. Stopping an unknown channel is a no-op beyond pruning its
// heartbeat entry.
func (s *Supervisor) Stop(ctx context.Context, channelID string) error {
	// Cancel any in-flight readiness probe before queueing on the channel
	// lock; the prober holds that lock until the probe returns.
	s.mu.Lock()
	if cancel, ok := s.probeCancels[channelID]; ok {
		cancel()
	}
	s.mu.Unlock()

	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	rec := s.records[channelID]
	delete(s.heartbeats, channelID)
	s.mu.Unlock()

	if rec == nil {
		return nil
	}
	s.stopRecordLocked(ctx, channelID, rec, rec.session != nil)
	return nil
}

// stopRecordLocked terminates the process, finalizes any in-progress
// recording, and removes the record plus derived artifacts. The channel lock
// must be held.
func (s *Supervisor) stopRecordLocked(ctx context.Context, channelID string, rec *channelRecord, finalize bool) {
	rec.mark.request()
	s.terminate(ctx, rec.handle)

	s.mu.Lock()
	if s.records[channelID] == rec {
		delete(s.records, channelID)
	}
	delete(s.recordingSet, channelID)
	s.mu.Unlock()

	if finalize && rec.session != nil {
		if tmp, final, ok := rec.session.InProgress(s.now()); ok {
			if err := s.finalizer.Finalize(ctx, tmp, final); err != nil {
				s.logger.Warn("finalize in-progress recording",
					"channel_id", channelID, "error", err)
			}
		}
	}

	if err := os.RemoveAll(rec.outputDir); err != nil {
		s.logger.Warn("remove output directory", "channel_id", channelID, "error", err)
	}
	s.logger.Info("transcoder stopped", "channel_id", channelID)
}

// terminate performs the graceful-then-forced kill sequence.
func (s *Supervisor) terminate(ctx context.Context, handle Handle) {
	if err := handle.Terminate(); err != nil {
		_ = handle.Kill()
		<-handle.Done()
		return
	}
	select {
	case <-handle.Done():
		return
	case <-ctx.Done():
	case <-time.After(s.killGrace):
	}
	_ = handle.Kill()
	<-handle.Done()
}

// watchExit self-heals the record map: any process exit, requested or not,
// removes the record so a later EnsureWatching respawns cleanly.
func (s *Supervisor) watchExit(channelID string, rec *channelRecord) {
	<-rec.handle.Done()

	s.mu.Lock()
	current := s.records[channelID]
	owned := current == rec
	if owned {
		delete(s.records, channelID)
	}
	s.mu.Unlock()

	if !owned || rec.mark.wasRequested() {
		return
	}

	s.metrics.ProcessCrashed()
	s.logger.Warn("transcoder exited unexpectedly",
		"channel_id", channelID, "error", rec.handle.Err())

	// A crashed recording still has a fragmented, sequentially playable
	// file on disk; finalize it in the background with the crash time as
	// its end boundary. The recording mark stays so the reaper does not
	// interfere before a respawn.
	if rec.session != nil {
		if tmp, final, ok := rec.session.InProgress(s.now()); ok {
			go func() {
				if err := s.finalizer.Finalize(context.Background(), tmp, final); err != nil {
					s.logger.Warn("finalize recording after crash",
						"channel_id", channelID, "error", err)
				}
			}()
		}
	}
}

// Heartbeat records consumer interest in a channel.
func (s *Supervisor) Heartbeat(channelID string) {
	s.mu.Lock()
	s.heartbeats[channelID] = s.now()
	s.mu.Unlock()
}

// SetPreload marks or unmarks a channel as exempt from idle reaping.
func (s *Supervisor) SetPreload(channelID string, preload bool) {
	s.mu.Lock()
	if preload {
		s.preload[channelID] = struct{}{}
	} else {
		delete(s.preload, channelID)
	}
	s.mu.Unlock()
}

// ReleasePreload unmarks the channel and stops it unless something else
// still wants it alive.
func (s *Supervisor) ReleasePreload(ctx context.Context, channelID string) error {
	s.mu.Lock()
	delete(s.preload, channelID)
	_, recordingNow := s.recordingSet[channelID]
	last, hasHeartbeat := s.heartbeats[channelID]
	fresh := hasHeartbeat && s.now().Sub(last) < s.heartbeatTimeout
	s.mu.Unlock()

	if recordingNow || fresh {
		return nil
	}
	return s.Stop(ctx, channelID)
}

// Status summarizes the control plane.
func (s *Supervisor) Status() models.SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := 0
	cutoff := s.now().Add(-s.heartbeatTimeout)
	for _, last := range s.heartbeats {
		if last.After(cutoff) {
			live++
		}
	}
	return models.SystemStatus{
		ActiveProcessCount:   len(s.records),
		LiveHeartbeatCount:   live,
		ActiveRecordingCount: len(s.recordingSet),
	}
}

// Channels lists per-channel detail for the status endpoint.
func (s *Supervisor) Channels() []models.ChannelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChannelStatus, 0, len(s.records))
	for id, rec := range s.records {
		_, preloaded := s.preload[id]
		_, recordingNow := s.recordingSet[id]
		out = append(out, models.ChannelStatus{
			ChannelID:     id,
			SourceAddress: rec.source,
			OutputShape:   rec.shape,
			StartedAt:     rec.startedAt,
			Preload:       preloaded,
			Recording:     recordingNow,
			PlaybackURL:   rec.playbackURL,
		})
	}
	return out
}

// UpdateGauges pushes current counts into the metrics recorder; wired as the
// pre-scrape hook of the metrics endpoint.
func (s *Supervisor) UpdateGauges() {
	status := s.Status()
	s.metrics.SetActiveProcesses(status.ActiveProcessCount)
	s.metrics.SetLiveHeartbeats(status.LiveHeartbeatCount)
	s.metrics.SetActiveRecordings(status.ActiveRecordingCount)
}

// Shutdown stops every supervised channel.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil {
			s.logger.Warn("stop channel during shutdown", "channel_id", id, "error", err)
		}
	}
}

// onSegmentOpened reacts to the transcoder announcing a new recording file:
// the previous segment is complete and can be finalized in the background.
func (s *Supervisor) onSegmentOpened(channelID string, session *recording.Session, opened string) {
	tmp, final, ok := session.ObserveOpened(opened)
	if !ok {
		return
	}
	go func() {
		if err := s.finalizer.Finalize(context.Background(), tmp, final); err != nil {
			s.logger.Warn("finalize rotated segment",
				"channel_id", channelID, "segment", tmp, "error", err)
		}
	}()
}

func (s *Supervisor) playbackURL(channelID string) string {
	if s.publicBase == "" {
		return filepath.ToSlash(filepath.Join(s.outputRoot, channelID, "index.m3u8"))
	}
	return s.publicBase + "/" + path.Join(channelID, "index.m3u8")
}
