package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based).
type Backoff interface {
	NextInterval(attempt int) time.Duration
}

// Exponential grows as Initial * Multiplier^(attempt-1), capped at Max.
// JitterFactor in [0,1] spreads each delay by up to that fraction either way.
type Exponential struct {
	Initial      time.Duration
	Max          time.Duration
	Multiplier   float64
	JitterFactor float64
}

func (e Exponential) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	initial := cmpOr(e.Initial, time.Second)
	maxDelay := cmpOr(e.Max, time.Minute)
	mult := e.Multiplier
	if mult == 0 {
		mult = 2
	}

	d := float64(initial) * math.Pow(mult, float64(attempt-1))
	if e.JitterFactor > 0 {
		d *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return time.Duration(d)
}

// Linear grows as Interval * attempt, capped at Max.
type Linear struct {
	Interval time.Duration
	Max      time.Duration
}

func (l Linear) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := cmpOr(l.Interval, time.Second) * time.Duration(attempt)
	return min(d, cmpOr(l.Max, time.Hour))
}

func cmpOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
