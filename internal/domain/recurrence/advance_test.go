package recurrence

import (
	"testing"
	"time"

	"github.com/phrazzld/cadence-api/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestAdvance(t *testing.T) {
	t.Parallel()

	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
	}

	testCases := []struct {
		name     string
		from     time.Time
		freq     domain.Frequency
		interval int
		expected time.Time
	}{
		{"daily", at(2024, time.March, 1), domain.FrequencyDaily, 1, at(2024, time.March, 2)},
		{"daily interval crosses month", at(2024, time.January, 30), domain.FrequencyDaily, 3, at(2024, time.February, 2)},
		{"weekly", at(2024, time.March, 1), domain.FrequencyWeekly, 1, at(2024, time.March, 8)},
		{"biweekly", at(2024, time.March, 1), domain.FrequencyWeekly, 2, at(2024, time.March, 15)},
		{"monthly keeps day", at(2024, time.March, 15), domain.FrequencyMonthly, 1, at(2024, time.April, 15)},
		{"monthly clamps jan 31 in leap year", at(2024, time.January, 31), domain.FrequencyMonthly, 1, at(2024, time.February, 29)},
		{"monthly clamps jan 31", at(2023, time.January, 31), domain.FrequencyMonthly, 1, at(2023, time.February, 28)},
		{"monthly wraps year", at(2023, time.November, 30), domain.FrequencyMonthly, 3, at(2024, time.February, 29)},
		{"yearly from leap day", at(2024, time.February, 29), domain.FrequencyYearly, 1, at(2025, time.February, 28)},
		{"yearly interval", at(2024, time.June, 1), domain.FrequencyYearly, 2, at(2026, time.June, 1)},
		{"zero interval does not advance", at(2024, time.June, 1), domain.FrequencyDaily, 0, at(2024, time.June, 1)},
		{"unknown frequency does not advance", at(2024, time.June, 1), domain.Frequency("hourly"), 1, at(2024, time.June, 1)},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, Advance(tc.from, tc.freq, tc.interval))
		})
	}
}
