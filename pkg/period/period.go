// Package period decides when usage counters roll over.
//
// Free-tier counters reset at every UTC midnight; paid-tier counters reset
// when the UTC calendar month changes. All comparisons are made in UTC, so a
// session that straddles midnight resets on the first read after the
// boundary rather than proactively.
package period

import (
	"fmt"
	"time"
)

// Policy evaluates period boundaries against its clock.
type Policy struct {
	now func() time.Time
}

type Option func(*Policy)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

func New(opts ...Option) *Policy {
	p := &Policy{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var wallClock = New()

// IsNewPeriod reports whether a counter last touched at last must be reset.
// A zero last (no previous usage) always starts a new period.
func IsNewPeriod(last time.Time, monthly bool) bool {
	return wallClock.IsNewPeriod(last, monthly)
}

// IsNewPeriodString parses an RFC 3339 timestamp; empty or malformed input starts a new period.
func IsNewPeriodString(last string, monthly bool) bool {
	return wallClock.IsNewPeriodString(last, monthly)
}

// TimeUntilReset renders the time left in the current period for display.
// The result is not meant to be parsed back into a duration.
func TimeUntilReset(monthly bool) string {
	return wallClock.TimeUntilReset(monthly)
}

func (p *Policy) Now() time.Time {
	return p.now().UTC()
}

func (p *Policy) IsNewPeriod(last time.Time, monthly bool) bool {
	if last.IsZero() {
		return true
	}
	now := p.Now()
	last = last.UTC()
	if monthly {
		return now.Year() != last.Year() || now.Month() != last.Month()
	}
	return now.Year() != last.Year() || now.YearDay() != last.YearDay()
}

func (p *Policy) IsNewPeriodString(last string, monthly bool) bool {
	if last == "" {
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, last)
	if err != nil {
		return true
	}
	return p.IsNewPeriod(t, monthly)
}

// Start returns the beginning of the current period.
func (p *Policy) Start(monthly bool) time.Time {
	now := p.Now()
	if monthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ResetAt returns the instant the next period starts: the next UTC midnight,
// or the start of next month.
func (p *Policy) ResetAt(monthly bool) time.Time {
	if monthly {
		return p.Start(true).AddDate(0, 1, 0)
	}
	return p.Start(false).AddDate(0, 0, 1)
}

func (p *Policy) TimeUntilReset(monthly bool) string {
	left := p.ResetAt(monthly).Sub(p.Now())
	if !monthly {
		h := int(left / time.Hour)
		m := int((left % time.Hour) / time.Minute)
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if left < 24*time.Hour {
		return plural(int(left/time.Hour), "hour")
	}
	return plural(int(left/(24*time.Hour)), "day")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
