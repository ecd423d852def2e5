package recording

import (
	"fmt"
	"os"

	mp4 "github.com/abema/go-mp4"
)

// VerifySeekable confirms the container is index-first: the moov box must be
// present and precede any mdat, otherwise players cannot seek without
// scanning the whole file.
func VerifySeekable(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open finalized file: %w", err)
	}
	defer file.Close()

	moovOffset := int64(-1)
	mdatOffset := int64(-1)
	_, err = mp4.ReadBoxStructure(file, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case mp4.BoxTypeMoov():
			if moovOffset < 0 {
				moovOffset = int64(h.BoxInfo.Offset)
			}
		case mp4.BoxTypeMdat():
			if mdatOffset < 0 {
				mdatOffset = int64(h.BoxInfo.Offset)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("read box structure: %w", err)
	}
	if moovOffset < 0 {
		return fmt.Errorf("%s: no moov box", path)
	}
	if mdatOffset >= 0 && moovOffset > mdatOffset {
		return fmt.Errorf("%s: moov box trails mdat", path)
	}
	return nil
}
