package hvacsync

import (
	"time"

	"github.com/devilrob/felshare-cloud/internal/device"
)

// InWindow reports whether local time now falls inside the schedule's
// day and time window.
//
// An identical start and end means the whole day. A start after the end
// is an overnight window (22:00 to 06:00) which still keys off the day
// bit of the current day.
func InWindow(now time.Time, s device.Schedule) bool {
	if s.DaysMask&device.DayBit(now.Weekday()) == 0 {
		return false
	}

	sh, sm, err := device.ParseHHMM(s.Start)
	if err != nil {
		return false
	}
	eh, em, err := device.ParseHHMM(s.End)
	if err != nil {
		return false
	}

	start := sh*60 + sm
	end := eh*60 + em
	cur := now.Hour()*60 + now.Minute()

	switch {
	case start == end:
		return true
	case start < end:
		return cur >= start && cur < end
	default:
		return cur >= start || cur < end
	}
}
