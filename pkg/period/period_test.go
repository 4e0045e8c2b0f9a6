package period_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/pixelmint/pkg/period"
)

func at(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

func TestIsNewPeriod(t *testing.T) {
	t.Parallel()
	p := period.New(period.WithClock(at("2025-03-15T10:00:00Z")))

	tests := []struct {
		name    string
		last    string
		monthly bool
		want    bool
	}{
		{"no previous usage daily", "", false, true},
		{"no previous usage monthly", "", true, true},
		{"malformed timestamp", "yesterday", false, true},
		{"same utc day", "2025-03-15T00:00:01Z", false, false},
		{"previous utc day", "2025-03-14T23:59:59Z", false, true},
		{"same day last year", "2024-03-15T10:00:00Z", false, true},
		{"same month", "2025-03-01T00:00:00Z", true, false},
		{"previous month", "2025-02-28T23:59:59Z", true, true},
		{"same month last year", "2024-03-20T00:00:00Z", true, true},
		{"offset timestamp normalised to utc", "2025-03-15T01:00:00+02:00", false, true},
		{"offset timestamp same utc day", "2025-03-15T05:00:00+02:00", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.IsNewPeriodString(tt.last, tt.monthly))
		})
	}

	assert.True(t, p.IsNewPeriod(time.Time{}, true))
}

func TestTimeUntilReset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		now     string
		monthly bool
		want    string
	}{
		{"daily", "2025-03-15T21:30:00Z", false, "2h 30m"},
		{"daily just after midnight", "2025-03-15T00:00:00Z", false, "24h 0m"},
		{"monthly days", "2025-03-15T00:00:00Z", true, "17 days"},
		{"monthly one day", "2025-03-30T12:00:00Z", true, "1 day"},
		{"monthly hours on last day", "2025-03-31T20:00:00Z", true, "4 hours"},
		{"monthly february", "2024-02-28T00:00:00Z", true, "2 days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := period.New(period.WithClock(at(tt.now)))
			assert.Equal(t, tt.want, p.TimeUntilReset(tt.monthly))
		})
	}
}

func TestStartAndResetAt(t *testing.T) {
	t.Parallel()
	p := period.New(period.WithClock(at("2025-12-31T18:00:00Z")))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), p.Start(true))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.ResetAt(true))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.ResetAt(false))
}

func TestPackageLevelUsesWallClock(t *testing.T) {
	t.Parallel()
	assert.True(t, period.IsNewPeriodString("", false))
	assert.False(t, period.IsNewPeriod(time.Now(), true))
	assert.NotEmpty(t, period.TimeUntilReset(false))
}
