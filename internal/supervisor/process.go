package supervisor

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
)

// ProcessSpec describes one transcoder invocation.
type ProcessSpec struct {
	Command string
	Args    []string
	// Label tags log lines emitted by the process.
	Label string
	// LineListener, when non-nil, receives every stderr line. The recording
	// pipeline uses it to spot segment rotations.
	LineListener func(line string)
}

// Handle is the supervisor's grip on one running external process.
type Handle interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error; valid only after Done is closed.
	Err() error
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill forcefully ends the process.
	Kill() error
}

// Runner spawns external processes. Tests substitute a fake.
type Runner interface {
	Start(ctx context.Context, spec ProcessSpec) (Handle, error)
}

type execRunner struct {
	logger *slog.Logger
}

// NewExecRunner returns the production Runner backed by os/exec.
func NewExecRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &execRunner{logger: logger}
}

func (r *execRunner) Start(ctx context.Context, spec ProcessSpec) (Handle, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stdout = newLineWriter(r.logger, spec.Label, "stdout", nil)
	cmd.Stderr = newLineWriter(r.logger, spec.Label, "stderr", spec.LineListener)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *execHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(os.Interrupt)
}

func (h *execHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// lineWriter splits process output into lines, forwarding them to the logger
// and, optionally, a listener.
type lineWriter struct {
	logger   *slog.Logger
	label    string
	stream   string
	listener func(string)
	buf      bytes.Buffer
}

func newLineWriter(logger *slog.Logger, label, stream string, listener func(string)) *lineWriter {
	return &lineWriter{logger: logger, label: label, stream: stream, listener: listener}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	total := len(p)
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		// ffmpeg terminates progress updates with \r, not \n; treat both as
		// line boundaries so stats output never accumulates in the buffer.
		idx := bytes.IndexAny(data, "\r\n")
		if idx == -1 {
			break
		}
		line := string(bytes.TrimSpace(data[:idx]))
		w.buf.Next(idx + 1)
		if line == "" {
			continue
		}
		if w.listener != nil {
			w.listener(line)
		}
		w.logger.Debug("transcoder output", "channel", w.label, "stream", w.stream, "line", line)
	}
	return total, nil
}

// stopMark distinguishes requested stops from crashes in the exit handler.
type stopMark struct {
	requested atomic.Bool
}

func (m *stopMark) request() { m.requested.Store(true) }
func (m *stopMark) wasRequested() bool { return m.requested.Load() }
