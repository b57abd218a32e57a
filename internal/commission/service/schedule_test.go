package service

import (
	"testing"
	"time"
)

func TestPayoutCalendarDate(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	cases := []struct {
		name   string
		earned time.Time
		want   time.Time
	}{
		{
			name:   "on cutoff day pays next month",
			earned: time.Date(2026, 1, 15, 23, 59, 59, 0, denver),
			want:   time.Date(2026, 2, 2, 9, 0, 0, 0, denver), // Feb 1 2026 is a Sunday
		},
		{
			name:   "after cutoff pays month after next",
			earned: time.Date(2026, 1, 16, 0, 0, 0, 0, denver),
			want:   time.Date(2026, 3, 2, 9, 0, 0, 0, denver), // Mar 1 2026 is a Sunday
		},
		{
			name:   "saturday rolls to monday",
			earned: time.Date(2026, 7, 10, 12, 0, 0, 0, denver),
			want:   time.Date(2026, 8, 3, 9, 0, 0, 0, denver), // Aug 1 2026 is a Saturday
		},
		{
			name:   "weekday stays",
			earned: time.Date(2026, 5, 3, 12, 0, 0, 0, denver),
			want:   time.Date(2026, 6, 1, 9, 0, 0, 0, denver), // Jun 1 2026 is a Monday
		},
		{
			name:   "december rolls the year",
			earned: time.Date(2026, 12, 20, 12, 0, 0, 0, denver),
			want:   time.Date(2027, 2, 1, 9, 0, 0, 0, denver), // Feb 1 2027 is a Monday
		},
	}

	for _, tc := range cases {
		got := payoutCalendarDate(tc.earned.UTC(), denver, 15, 9)
		if !got.Equal(tc.want) {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.In(denver))
		}
	}
}
