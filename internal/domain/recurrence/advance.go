package recurrence

import (
	"time"

	"github.com/phrazzld/cadence-api/internal/domain"
)

// Advance returns the due date interval units of freq after from. Monthly
// and yearly steps keep the day of month when the target month has it and
// clamp to the target month's last day otherwise, so Jan 31 plus one month
// is Feb 28 (Feb 29 in leap years). The time of day is preserved.
//
// An interval below 1 or an unknown frequency returns from unchanged; the
// caller treats any result not after from as a malformed rule.
func Advance(from time.Time, freq domain.Frequency, interval int) time.Time {
	if interval < 1 {
		return from
	}
	switch freq {
	case domain.FrequencyDaily:
		return from.AddDate(0, 0, interval)
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7*interval)
	case domain.FrequencyMonthly:
		return addMonthsClamped(from, interval)
	case domain.FrequencyYearly:
		return addMonthsClamped(from, 12*interval)
	default:
		return from
	}
}

func addMonthsClamped(from time.Time, months int) time.Time {
	year, month, day := from.Date()
	total := int(month) - 1 + months
	targetYear := year + total/12
	targetMonth := time.Month(total%12 + 1)

	if last := daysInMonth(targetMonth, targetYear); day > last {
		day = last
	}
	hour, minute, sec := from.Clock()
	return time.Date(targetYear, targetMonth, day, hour, minute, sec, from.Nanosecond(), from.Location())
}

func daysInMonth(month time.Month, year int) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
