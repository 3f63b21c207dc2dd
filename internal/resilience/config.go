package resilience

import (
	"time"
)

// FromConfig converts config values to a Policy, falling back to defaults
// for non-positive inputs.
func FromConfig(maxAttempts int, timeUnit time.Duration, rateLimitCeiling float64) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if timeUnit > 0 {
		p.TimeUnit = timeUnit
	}
	if rateLimitCeiling > 0 {
		p.RateLimitCeiling = rateLimitCeiling
	}
	return p
}
