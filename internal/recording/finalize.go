package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"camrelay/internal/observability/metrics"
)

// Remuxer losslessly copies a fragmented recording into an index-first
// container so ordinary players can seek in it.
type Remuxer interface {
	Remux(ctx context.Context, src, dst string) error
}

// FFmpegRemuxer shells out to the transcoder binary for the stream copy.
type FFmpegRemuxer struct {
	Path string
}

// Remux performs the faststart stream copy.
func (r FFmpegRemuxer) Remux(ctx context.Context, src, dst string) error {
	bin := r.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-y", "-i", src, "-c", "copy", "-movflags", "+faststart", dst)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("remux %s: %w (%s)", src, err, tail(output, 256))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

// FinalizerConfig assembles a Finalizer.
type FinalizerConfig struct {
	Remuxer Remuxer
	// SettleDelay lets trailing writes flush before the file is touched.
	// A heuristic, not a guarantee; tune upward on slow storage.
	SettleDelay time.Duration
	Timeout     time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	// Verify checks the finalized file is seekable. Nil means the mp4
	// box-order check.
	Verify func(path string) error
}

// Finalizer turns completed temporary recording files into their final,
// seekable form. Failures degrade to a bare rename so no file is ever left
// inaccessible under its temporary name.
type Finalizer struct {
	remuxer Remuxer
	settle  time.Duration
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
	verify  func(path string) error

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewFinalizer builds a Finalizer, filling defaults for optional fields.
func NewFinalizer(cfg FinalizerConfig) *Finalizer {
	f := &Finalizer{
		remuxer:  cfg.Remuxer,
		settle:   cfg.SettleDelay,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		verify:   cfg.Verify,
		inFlight: make(map[string]struct{}),
	}
	if f.remuxer == nil {
		f.remuxer = FFmpegRemuxer{}
	}
	if f.settle < 0 {
		f.settle = 0
	}
	if f.timeout <= 0 {
		f.timeout = 60 * time.Second
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.metrics == nil {
		f.metrics = metrics.Default()
	}
	if f.verify == nil {
		f.verify = VerifySeekable
	}
	return f
}

// Finalize converts tmpPath into finalPath. It is idempotent: when the
// destination already exists (duplicate rotation signal) it does nothing.
func (f *Finalizer) Finalize(ctx context.Context, tmpPath, finalPath string) error {
	f.mu.Lock()
	if _, busy := f.inFlight[finalPath]; busy {
		f.mu.Unlock()
		f.metrics.ObserveFinalization("skipped")
		return nil
	}
	f.inFlight[finalPath] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.inFlight, finalPath)
		f.mu.Unlock()
	}()

	if _, err := os.Stat(finalPath); err == nil {
		f.metrics.ObserveFinalization("skipped")
		return nil
	}
	if _, err := os.Stat(tmpPath); err != nil {
		return fmt.Errorf("finalize source missing: %w", err)
	}

	if f.settle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.settle):
		}
	}

	remuxCtx, cancel := context.WithTimeout(ctx, f.timeout)
	err := f.remuxer.Remux(remuxCtx, tmpPath, finalPath)
	cancel()
	if err == nil {
		if verifyErr := f.verify(finalPath); verifyErr != nil {
			f.logger.Warn("finalized file failed seekability check",
				"path", finalPath, "error", verifyErr)
		}
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			f.logger.Warn("remove temporary recording", "path", tmpPath, "error", removeErr)
		}
		f.metrics.ObserveFinalization("remuxed")
		f.logger.Info("recording segment finalized", "path", finalPath)
		return nil
	}

	// Stream copy failed or timed out; a rename keeps the fragmented file
	// playable sequentially.
	f.logger.Warn("remux failed, falling back to rename", "src", tmpPath, "error", err)
	_ = os.Remove(finalPath)
	if renameErr := os.Rename(tmpPath, finalPath); renameErr != nil {
		f.metrics.ObserveFinalization("failed")
		return fmt.Errorf("finalize fallback rename: %w", renameErr)
	}
	f.metrics.ObserveFinalization("renamed")
	return nil
}
