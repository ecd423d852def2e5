package recording

import "testing"

func TestWatcherDetectsRotation(t *testing.T) {
	var opened []string
	w := NewWatcher(RotationListenerFunc(func(path string) {
		opened = append(opened, path)
	}))

	lines := []string{
		"frame= 1200 fps= 25 q=28.0 size=    4096kB time=00:00:48.00",
		"[segment @ 0x5593] Opening '/rec/cam-1/2026-03-02/tmp_abc_001.mp4' for writing",
		"[hls @ 0x5594] Opening '/out/cam-1/seg0004.ts' for writing",
		"Press [q] to stop, [?] for help",
	}
	var matched int
	for _, line := range lines {
		if w.ObserveLine(line) {
			matched++
		}
	}
	if matched != 2 {
		t.Fatalf("matched %d lines, want 2", matched)
	}
	if len(opened) != 2 || opened[0] != "/rec/cam-1/2026-03-02/tmp_abc_001.mp4" {
		t.Fatalf("unexpected opened paths: %v", opened)
	}
}

func TestWatcherNilListener(t *testing.T) {
	w := NewWatcher(nil)
	if !w.ObserveLine("Opening 'x.mp4' for writing") {
		t.Fatal("rotation line not detected")
	}
}
