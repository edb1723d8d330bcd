package config

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy describes the stage retry behavior as a plain value. It is
// consumed only by the orchestrator's stage-execution loop and the model
// gateway; agents never retry on their own.
type RetryPolicy struct {
	MaxAttempts     int           // total attempts including the first
	BaseDelay       time.Duration // delay before the first retry
	MaxDelay        time.Duration
	Jitter          float64 // fraction of the delay randomized, 0..1
	QuotaMultiplier float64 // extra backoff factor for quota errors
}

// Delay returns the backoff before retry number attempt (1-based).
// Exponential doubling from BaseDelay, capped at MaxDelay, with jitter.
// Quota errors back off QuotaMultiplier times longer.
func (p RetryPolicy) Delay(attempt int, quota bool) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if quota && p.QuotaMultiplier > 1 {
		d = time.Duration(float64(d) * p.QuotaMultiplier)
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}
