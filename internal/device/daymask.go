package device

import (
	"strings"
	"time"
)

// Days-of-week bitmask, matching the vendor app exactly: Sun=1, Mon=2,
// Tue=4, Wed=8, Thu=16, Fri=32, Sat=64. A wrong bit assignment makes day
// toggles land on the wrong day, so this mapping is load-bearing.
const (
	DaySunday    byte = 1 << iota // 0x01
	DayMonday                     // 0x02
	DayTuesday                    // 0x04
	DayWednesday                  // 0x08
	DayThursday                   // 0x10
	DayFriday                     // 0x20
	DaySaturday                   // 0x40

	// DaysAll selects every day of the week.
	DaysAll byte = 0x7F

	// daysMaskBits masks off anything above the seven day bits.
	daysMaskBits byte = 0x7F
)

// dayNames is indexed by time.Weekday (Sunday = 0).
var dayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// DayBit returns the mask bit for a weekday. time.Weekday numbers Sunday
// as 0, which lines up exactly with the vendor's bit assignment.
func DayBit(day time.Weekday) byte {
	return 1 << uint(day) // #nosec G115 -- Weekday is 0..6
}

// EncodeDays builds a mask from a set of weekdays.
func EncodeDays(days ...time.Weekday) byte {
	var mask byte
	for _, d := range days {
		mask |= DayBit(d)
	}
	return mask & daysMaskBits
}

// DecodeDays expands a mask into its weekdays, Sunday first.
func DecodeDays(mask byte) []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if mask&DayBit(d) != 0 {
			days = append(days, d)
		}
	}
	return days
}

// FormatDays renders a mask as a human-readable list ("Mon,Wed,Fri").
// An empty mask renders as "-".
func FormatDays(mask byte) string {
	days := DecodeDays(mask)
	if len(days) == 0 {
		return "-"
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = dayNames[d]
	}
	return strings.Join(names, ",")
}
