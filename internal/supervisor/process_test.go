package supervisor

import (
	"fmt"
	"testing"
)

func collectingLineWriter() (*lineWriter, *[]string) {
	lines := &[]string{}
	w := newLineWriter(quietLogger(), "cam-1", "stderr", func(line string) {
		*lines = append(*lines, line)
	})
	return w, lines
}

func TestLineWriterSplitsNewlines(t *testing.T) {
	w, lines := collectingLineWriter()

	if _, err := w.Write([]byte("first line\nsecond ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("half\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(*lines) != 2 || (*lines)[0] != "first line" || (*lines)[1] != "second half" {
		t.Fatalf("unexpected lines %v", *lines)
	}
}

func TestLineWriterFlushesCarriageReturnUpdates(t *testing.T) {
	w, lines := collectingLineWriter()

	// ffmpeg rewrites its stats line in place with \r and never emits \n;
	// a long transcode must not accumulate those updates in the buffer.
	for i := 0; i < 10000; i++ {
		fmt.Fprintf(w, "frame=%5d fps=25 time=00:00:%02d.00 bitrate=912kbits/s\r", i, i%60)
	}

	if w.buf.Len() != 0 {
		t.Fatalf("retained %d bytes of progress output", w.buf.Len())
	}
	if len(*lines) != 10000 {
		t.Fatalf("forwarded %d lines, want 10000", len(*lines))
	}
}

func TestLineWriterHandlesCRLF(t *testing.T) {
	w, lines := collectingLineWriter()

	if _, err := w.Write([]byte("one\r\ntwo\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(*lines) != 2 || (*lines)[0] != "one" || (*lines)[1] != "two" {
		t.Fatalf("unexpected lines %v", *lines)
	}
}
