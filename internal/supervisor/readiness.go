package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ReadinessProbe blocks until a freshly spawned process has produced
// playable output in its directory, or the window lapses.
type ReadinessProbe interface {
	WaitReady(ctx context.Context, dir string) error
}

const (
	defaultProbeInterval   = 500 * time.Millisecond
	defaultMinSegmentBytes = 10 * 1024
)

type hlsReadinessProbe struct {
	timeout         time.Duration
	interval        time.Duration
	minSegmentBytes int64
}

// NewReadinessProbe polls for a minimally valid playlist plus one
// sufficiently large media segment, or any bounded-size-positive container
// file, within the timeout.
func NewReadinessProbe(timeout time.Duration) ReadinessProbe {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &hlsReadinessProbe{
		timeout:         timeout,
		interval:        defaultProbeInterval,
		minSegmentBytes: defaultMinSegmentBytes,
	}
}

func (p *hlsReadinessProbe) WaitReady(ctx context.Context, dir string) error {
	deadline := time.Now().Add(p.timeout)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if p.ready(dir) {
			return nil
		}
		if time.Now().After(deadline) {
			return &StartupTimeoutError{Dir: dir, Found: listDir(dir)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *hlsReadinessProbe) ready(dir string) bool {
	if p.playlistReady(filepath.Join(dir, "index.m3u8")) && p.segmentReady(dir) {
		return true
	}
	return p.containerReady(dir)
}

func (p *hlsReadinessProbe) playlistReady(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	content := string(data)
	if !strings.Contains(content, "#EXTM3U") {
		return false
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return true
		}
	}
	return false
}

func (p *hlsReadinessProbe) segmentReady(dir string) bool {
	segments, _ := filepath.Glob(filepath.Join(dir, "*.ts"))
	for _, seg := range segments {
		if info, err := os.Stat(seg); err == nil && info.Size() >= p.minSegmentBytes {
			return true
		}
	}
	return false
}

func (p *hlsReadinessProbe) containerReady(dir string) bool {
	for _, pattern := range []string{"*.mp4", "*.m4s"} {
		files, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, f := range files {
			if info, err := os.Stat(f); err == nil && info.Size() > 0 {
				return true
			}
		}
	}
	return false
}

func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	found := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if info, err := entry.Info(); err == nil {
			name = name + " (" + formatSize(info.Size()) + ")"
		}
		found = append(found, name)
	}
	return found
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return strconv.FormatInt(n>>20, 10) + "MB"
	case n >= 1<<10:
		return strconv.FormatInt(n>>10, 10) + "KB"
	default:
		return strconv.FormatInt(n, 10) + "B"
	}
}
