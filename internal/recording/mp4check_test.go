package recording

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func box(boxType string, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(b, uint32(8+len(payload)))
	copy(b[4:8], boxType)
	copy(b[8:], payload)
	return b
}

func writeBoxes(t *testing.T, boxes ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probe.mp4")
	var data []byte
	for _, b := range boxes {
		data = append(data, b...)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifySeekableMoovFirst(t *testing.T) {
	path := writeBoxes(t,
		box("ftyp", []byte("isom0000")),
		box("moov", nil),
		box("mdat", []byte{0x00, 0x01}),
	)
	if err := VerifySeekable(path); err != nil {
		t.Fatalf("VerifySeekable: %v", err)
	}
}

func TestVerifySeekableMoovTrailsMdat(t *testing.T) {
	path := writeBoxes(t,
		box("ftyp", []byte("isom0000")),
		box("mdat", []byte{0x00, 0x01}),
		box("moov", nil),
	)
	if err := VerifySeekable(path); err == nil {
		t.Fatal("expected error for moov after mdat")
	}
}

func TestVerifySeekableNoMoov(t *testing.T) {
	path := writeBoxes(t,
		box("ftyp", []byte("isom0000")),
		box("mdat", []byte{0x00, 0x01}),
	)
	if err := VerifySeekable(path); err == nil {
		t.Fatal("expected error for missing moov")
	}
}
