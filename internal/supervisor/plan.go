package supervisor

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"camrelay/internal/models"
	"camrelay/internal/recording"
)

// planInput gathers everything needed to build one transcoder argument list.
type planInput struct {
	source  string
	shape   *models.OutputShape
	dir     string
	session *recording.Session
}

const (
	hlsSegmentSeconds = 4
	hlsListSize       = 6
)

// buildPlan constructs the transcoder argument list. Without a recording
// session it emits a single HLS output; with one it splits the decoded video
// after the shape transform so both outputs share the same geometry, and the
// recording side is written fragmented so a killed process cannot leave an
// unplayable file behind.
func buildPlan(in planInput) ([]string, error) {
	if strings.TrimSpace(in.source) == "" {
		return nil, fmt.Errorf("source address is required")
	}
	if err := in.shape.Validate(); err != nil {
		return nil, err
	}

	playlist := filepath.Join(in.dir, "index.m3u8")
	args := []string{"-hide_banner", "-loglevel", "info", "-y", "-i", in.source}

	hlsArgs := []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(hlsSegmentSeconds),
		"-hls_list_size", strconv.Itoa(hlsListSize),
		"-hls_flags", "delete_segments+program_date_time",
		playlist,
	}

	if in.session == nil {
		if in.shape == nil {
			args = append(args, "-c:v", "copy", "-c:a", "copy")
		} else {
			args = append(args,
				"-vf", scaleFilter(in.shape),
				"-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency",
				"-c:a", "aac",
			)
		}
		return append(args, hlsArgs...), nil
	}

	// Dual-output graph: one decode, split after the shape transform.
	filter := "[0:v]split=2[live][rec]"
	if in.shape != nil {
		filter = fmt.Sprintf("[0:v]%s,split=2[live][rec]", scaleFilter(in.shape))
	}
	args = append(args, "-filter_complex", filter)

	args = append(args, "-map", "[live]", "-map", "0:a?")
	args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency", "-c:a", "aac")
	args = append(args, hlsArgs...)

	args = append(args, "-map", "[rec]", "-map", "0:a?")
	args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac")
	switch in.session.Config.Mode {
	case models.RecordSegmented:
		args = append(args,
			"-f", "segment",
			"-segment_time", strconv.Itoa(int(in.session.Config.SegmentDuration().Seconds())),
			"-reset_timestamps", "1",
			"-segment_format", "mp4",
			"-segment_format_options", "movflags=+frag_keyframe+empty_moov",
			in.session.TempSegmentPattern(),
		)
	default:
		args = append(args,
			"-movflags", "+frag_keyframe+empty_moov",
			"-f", "mp4",
			in.session.TempSinglePath(),
		)
	}
	return args, nil
}

func scaleFilter(shape *models.OutputShape) string {
	return fmt.Sprintf("scale=%d:%d,setsar=1", shape.Width, shape.Height)
}
