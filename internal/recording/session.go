// Package recording implements the crash-safe recording side of a channel
// process: naming and rotation of recording files, detection of segment
// boundaries from the transcoder's diagnostic output, and finalization of
// completed segments into seekable containers.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"camrelay/internal/models"
)

const tempPrefix = "tmp_"

// Session tracks one enable→disable recording span for a channel. File names
// encode the actual wall-clock time range each file covers, so early stops
// and restarts are reflected truthfully.
type Session struct {
	ID         string
	ChannelID  string
	Config     models.RecordingConfig
	Dir        string
	StartedAt  time.Time
	PlannedEnd time.Time // zero when the stop time is not known up front

	mu           sync.Mutex
	currentIndex int
}

// NewSession creates the date-partitioned recording directory and returns a
// session rooted in it.
func NewSession(root, channelID string, cfg models.RecordingConfig, startedAt time.Time, plannedEnd time.Time) (*Session, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	dir := filepath.Join(root, channelID, startedAt.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare recording directory: %w", err)
	}
	return &Session{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		Config:     cfg,
		Dir:        dir,
		StartedAt:  startedAt,
		PlannedEnd: plannedEnd,
	}, nil
}

func (s *Session) baseName() string {
	title := sanitizeTitle(s.Config.Title)
	if title == "" {
		title = sanitizeTitle(s.ChannelID)
	}
	if title == "" {
		title = "recording"
	}
	return title
}

// TempSinglePath is the in-progress file for single-file mode. Its name
// carries the configured time range known at creation.
func (s *Session) TempSinglePath() string {
	end := s.PlannedEnd
	if end.IsZero() {
		end = s.StartedAt
	}
	name := fmt.Sprintf("%s%s_%s-%s.mp4", tempPrefix, s.baseName(),
		s.StartedAt.Format("150405"), end.Format("150405"))
	return filepath.Join(s.Dir, name)
}

// TempSegmentPattern is the printf-style pattern handed to the transcoder's
// segment muxer in segmented mode.
func (s *Session) TempSegmentPattern() string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s%s_%%03d.mp4", tempPrefix, s.ID))
}

// TempSegmentPath names one rotated temporary segment.
func (s *Session) TempSegmentPath(index int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s%s_%03d.mp4", tempPrefix, s.ID, index))
}

// SegmentRange computes the absolute time range a segment index covers.
func (s *Session) SegmentRange(index int) (time.Time, time.Time) {
	d := s.Config.SegmentDuration()
	start := s.StartedAt.Add(time.Duration(index) * d)
	return start, start.Add(d)
}

// FinalPath names a finalized recording file for the given actual time range.
func (s *Session) FinalPath(start, end time.Time) string {
	name := fmt.Sprintf("%s_%s-%s.mp4", s.baseName(), start.Format("150405"), end.Format("150405"))
	return filepath.Join(s.Dir, name)
}

// ObserveOpened records that the transcoder opened path for writing and, when
// that path is a later segment of this session, returns the just-completed
// predecessor segment as a (temp, final) pair ready for finalization.
func (s *Session) ObserveOpened(path string) (string, string, bool) {
	index, ok := s.parseSegmentIndex(path)
	if !ok {
		return "", "", false
	}
	s.mu.Lock()
	if index <= s.currentIndex && index != 0 {
		s.mu.Unlock()
		return "", "", false
	}
	prev := index - 1
	s.currentIndex = index
	s.mu.Unlock()
	if prev < 0 {
		return "", "", false
	}
	start, end := s.SegmentRange(prev)
	return s.TempSegmentPath(prev), s.FinalPath(start, end), true
}

// InProgress returns the at-most-one temporary file still being written,
// paired with its final name computed from the real stop time.
func (s *Session) InProgress(stoppedAt time.Time) (string, string, bool) {
	switch s.Config.Mode {
	case models.RecordSegmented:
		s.mu.Lock()
		index := s.currentIndex
		s.mu.Unlock()
		start, _ := s.SegmentRange(index)
		if stoppedAt.Before(start) {
			stoppedAt = start
		}
		return s.TempSegmentPath(index), s.FinalPath(start, stoppedAt), true
	default:
		return s.TempSinglePath(), s.FinalPath(s.StartedAt, stoppedAt), true
	}
}

func (s *Session) parseSegmentIndex(path string) (int, bool) {
	base := filepath.Base(path)
	prefix := tempPrefix + s.ID + "_"
	if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, ".mp4") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".mp4")
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

// sanitizeTitle folds a channel title to filesystem-safe ASCII.
func sanitizeTitle(title string) string {
	folded, _, err := transform.String(transform.Chain(
		norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), strings.TrimSpace(title))
	if err != nil {
		folded = strings.TrimSpace(title)
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return b.String()
}
