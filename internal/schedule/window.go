package schedule

import (
	"time"

	"camrelay/internal/models"
)

// minuteOfDay collapses a wall-clock instant to minutes since local midnight.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// windowContains reports whether current lies inside [start, end), where all
// three are minute-of-day values. end <= start marks a window that crosses
// midnight, e.g. 22:00-06:00.
func windowContains(current, start, end int) bool {
	if end > start {
		return current >= start && current < end
	}
	return current >= start || current < end
}

// entryContains evaluates a schedule entry's window at the given local time.
// Entries are validated on load, so the clock strings parse.
func entryContains(entry models.ScheduleEntry, at time.Time) bool {
	start, err := models.ParseClock(entry.StartTime)
	if err != nil {
		return false
	}
	end, err := models.ParseClock(entry.EndTime)
	if err != nil {
		return false
	}
	return windowContains(minuteOfDay(at), start, end)
}

// nextClock returns the next instant at or after now whose local wall clock
// reads the given minute-of-day.
func nextClock(now time.Time, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), minute/60, minute%60, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
