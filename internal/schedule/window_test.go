package schedule

import (
	"testing"
	"time"

	"camrelay/internal/models"
)

func TestWindowContains(t *testing.T) {
	cases := []struct {
		name                string
		current, start, end int
		want                bool
	}{
		{"inside plain window", 10 * 60, 9 * 60, 18 * 60, true},
		{"at start boundary", 9 * 60, 9 * 60, 18 * 60, true},
		{"at end boundary", 18 * 60, 9 * 60, 18 * 60, false},
		{"before plain window", 8 * 60, 9 * 60, 18 * 60, false},
		{"midnight crossing, evening side", 23 * 60, 22 * 60, 6 * 60, true},
		{"midnight crossing, morning side", 5 * 60, 22 * 60, 6 * 60, true},
		{"midnight crossing, daytime gap", 12 * 60, 22 * 60, 6 * 60, false},
		{"midnight crossing, at end", 6 * 60, 22 * 60, 6 * 60, false},
		{"degenerate equal bounds always inside", 12 * 60, 8 * 60, 8 * 60, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := windowContains(tc.current, tc.start, tc.end); got != tc.want {
				t.Fatalf("windowContains(%d, %d, %d) = %v, want %v",
					tc.current, tc.start, tc.end, got, tc.want)
			}
		})
	}
}

func TestEntryContains(t *testing.T) {
	entry := models.ScheduleEntry{ChannelID: "cam-1", StartTime: "22:00", EndTime: "06:00"}
	at := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	if !entryContains(entry, at) {
		t.Fatal("23:30 should be inside 22:00-06:00")
	}
	at = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if entryContains(entry, at) {
		t.Fatal("12:00 should be outside 22:00-06:00")
	}
}

func TestNextClock(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, loc)

	got := nextClock(now, 18*60, loc)
	want := time.Date(2026, 3, 2, 18, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("nextClock same day = %v, want %v", got, want)
	}

	got = nextClock(now, 6*60, loc)
	want = time.Date(2026, 3, 3, 6, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("nextClock next day = %v, want %v", got, want)
	}
}
