// Package resilience classifies API call outcomes into success, retry with
// backoff, or terminal failure.
package resilience

import (
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Kind is the verdict for one attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetry
	KindFail
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetry:
		return "retry"
	case KindFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decision is the classifier's answer for a single attempt outcome.
type Decision struct {
	Kind   Kind
	Delay  time.Duration
	Reason string
	Class  ErrorClass
}

// Outcome describes one attempt. A zero StatusCode with a nil Err is a
// successful call; a non-2xx StatusCode is an HTTP rejection; an Err without
// a status is a transport or unexpected failure.
type Outcome struct {
	StatusCode int
	Err        error
}

// OutcomeFromError builds an Outcome from an error returned by a provider.
func OutcomeFromError(err error) Outcome {
	return Outcome{StatusCode: StatusCode(err), Err: err}
}

// Policy controls classification. Delays are expressed in time units so that
// tests can shrink the whole schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts per task. Default: 3.
	MaxAttempts int

	// TimeUnit is the length of one backoff unit. Default: 1s.
	TimeUnit time.Duration

	// RateLimitCeiling caps 429 backoff, in units. Default: 120.
	RateLimitCeiling float64

	// JitterFraction is applied as ±fraction of each backoff. Default: 0.2.
	JitterFraction float64

	// rand returns values in [0, 1). Nil uses math/rand/v2.
	rand func() float64
}

// backoff schedules in units: base·2^attempt, capped.
const (
	timeoutBase = 5.0
	timeoutCap  = 30.0
	serverBase  = 5.0
	serverCap   = 60.0
	rateBase    = 30.0
)

// DefaultPolicy returns the policy matching the remote API's observed behavior.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		TimeUnit:         time.Second,
		RateLimitCeiling: 120,
		JitterFraction:   0.2,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.TimeUnit <= 0 {
		p.TimeUnit = time.Second
	}
	if p.RateLimitCeiling <= 0 {
		p.RateLimitCeiling = 120
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.rand == nil {
		p.rand = rand.Float64
	}
	return p
}

// Attempts returns the effective attempt cap.
func (p Policy) Attempts() int {
	return p.withDefaults().MaxAttempts
}

// Classify decides what to do after the given zero-based attempt.
func (p Policy) Classify(o Outcome, attempt int) Decision {
	p = p.withDefaults()

	switch {
	case o.StatusCode == 0 && o.Err == nil:
		return Decision{Kind: KindSuccess}
	case o.StatusCode >= 200 && o.StatusCode < 300 && o.Err == nil:
		return Decision{Kind: KindSuccess}
	case o.StatusCode == 429:
		return Decision{
			Kind:  KindRetry,
			Delay: p.backoff(rateBase, p.RateLimitCeiling, attempt),
			Class: ClassRateLimited,
		}
	case o.StatusCode >= 500:
		return Decision{
			Kind:  KindRetry,
			Delay: p.backoff(serverBase, serverCap, attempt),
			Class: ClassServer,
		}
	case o.StatusCode != 0:
		return Decision{
			Kind:   KindFail,
			Reason: strconv.Itoa(o.StatusCode),
			Class:  ClassRejected,
		}
	case IsTimeout(o.Err):
		return Decision{
			Kind:  KindRetry,
			Delay: p.backoff(timeoutBase, timeoutCap, attempt),
			Class: ClassTimeout,
		}
	}

	if attempt >= p.MaxAttempts-1 {
		return Decision{Kind: KindFail, Reason: o.Err.Error(), Class: ClassUnexpected}
	}
	// Flat 1–2 unit pause for anything unrecognized.
	delay := (1 + p.rand()) * float64(p.TimeUnit)
	return Decision{Kind: KindRetry, Delay: time.Duration(delay), Class: ClassUnexpected}
}

// BaseDelay returns the un-jittered delay in units for a class and attempt.
func (p Policy) BaseDelay(class ErrorClass, attempt int) float64 {
	p = p.withDefaults()
	switch class {
	case ClassRateLimited:
		return capped(rateBase, p.RateLimitCeiling, attempt)
	case ClassServer:
		return capped(serverBase, serverCap, attempt)
	case ClassTimeout:
		return capped(timeoutBase, timeoutCap, attempt)
	default:
		return 0
	}
}

// RetryBudget returns the longest a task can sleep between its attempts:
// the worst jittered delay of any retryable class, summed over every retry.
func (p Policy) RetryBudget() time.Duration {
	p = p.withDefaults()
	schedules := [][2]float64{
		{rateBase, p.RateLimitCeiling},
		{serverBase, serverCap},
		{timeoutBase, timeoutCap},
	}
	var units float64
	for attempt := 0; attempt < p.MaxAttempts-1; attempt++ {
		worst := 2.0 // unrecognized errors pause up to 2 units
		for _, s := range schedules {
			d := math.Min(capped(s[0], s[1], attempt)*(1+p.JitterFraction), s[1])
			worst = math.Max(worst, d)
		}
		units += worst
	}
	return time.Duration(units * float64(p.TimeUnit))
}

func capped(base, ceiling float64, attempt int) float64 {
	return math.Min(base*math.Pow(2, float64(attempt)), ceiling)
}

func (p Policy) backoff(base, ceiling float64, attempt int) time.Duration {
	units := capped(base, ceiling, attempt)

	// Apply jitter: ±JitterFraction of delay, never past the ceiling.
	if p.JitterFraction > 0 {
		units += (p.rand()*2 - 1) * units * p.JitterFraction
	}
	units = math.Min(units, ceiling)
	if units < 0 {
		units = 0
	}
	return time.Duration(units * float64(p.TimeUnit))
}

// RetryLogger returns a callback that logs each retry decision.
func RetryLogger(stage string) func(attempt int, d Decision, err error) {
	return func(attempt int, d Decision, err error) {
		zap.L().Warn("retrying api call",
			zap.String("stage", stage),
			zap.String("class", string(d.Class)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", d.Delay),
			zap.Error(err),
		)
	}
}
