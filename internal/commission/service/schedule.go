package service

import "time"

// payoutCalendarDate returns the payout run a commission earned at earnedAt
// falls into: the 1st of next month when earned on or before cutoffDay
// (local time), otherwise the 1st of the month after. Weekend dates roll
// forward to Monday.
func payoutCalendarDate(earnedAt time.Time, loc *time.Location, cutoffDay, hour int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := earnedAt.In(loc)
	year, month, day := local.Date()

	months := 1
	if day > cutoffDay {
		months = 2
	}
	target := time.Date(year, month+time.Month(months), 1, hour, 0, 0, 0, loc)
	switch target.Weekday() {
	case time.Saturday:
		target = target.AddDate(0, 0, 2)
	case time.Sunday:
		target = target.AddDate(0, 0, 1)
	}
	return target.UTC()
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
