package recording

import (
	"regexp"
)

// The transcoder announces each output file it opens on stderr. This is the
// documented contract with the external tool; if it ever grows a structured
// progress channel, only this file needs to change.
var openForWritingPattern = regexp.MustCompile(`Opening '(.+?)' for writing`)

// RotationListener receives the path of every output file the transcoder
// reports opening.
type RotationListener interface {
	SegmentOpened(path string)
}

// RotationListenerFunc adapts a function to the RotationListener interface.
type RotationListenerFunc func(path string)

// SegmentOpened implements RotationListener.
func (f RotationListenerFunc) SegmentOpened(path string) { f(path) }

// Watcher scans transcoder diagnostic lines for rotation events.
type Watcher struct {
	listener RotationListener
}

// NewWatcher builds a watcher forwarding rotation events to listener.
func NewWatcher(listener RotationListener) *Watcher {
	return &Watcher{listener: listener}
}

// ObserveLine inspects one diagnostic line and reports whether it carried a
// rotation event.
func (w *Watcher) ObserveLine(line string) bool {
	match := openForWritingPattern.FindStringSubmatch(line)
	if match == nil {
		return false
	}
	if w.listener != nil {
		w.listener.SegmentOpened(match[1])
	}
	return true
}
