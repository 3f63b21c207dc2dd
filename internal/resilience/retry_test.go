package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

// midpoint jitter: rand 0.5 maps to zero offset.
func testPolicy() Policy {
	p := DefaultPolicy()
	p.TimeUnit = time.Millisecond
	p.rand = fixedRand(0.5)
	return p
}

func TestClassify_Success(t *testing.T) {
	p := testPolicy()
	for _, o := range []Outcome{{}, {StatusCode: 200}, {StatusCode: 204}} {
		d := p.Classify(o, 0)
		if d.Kind != KindSuccess {
			t.Errorf("outcome %+v: expected success, got %s", o, d.Kind)
		}
	}
}

func TestClassify_RateLimitedSchedule(t *testing.T) {
	p := testPolicy()
	want := []time.Duration{30, 60, 120, 120}
	for attempt, w := range want {
		d := p.Classify(Outcome{StatusCode: 429}, attempt)
		if d.Kind != KindRetry {
			t.Fatalf("attempt %d: expected retry, got %s", attempt, d.Kind)
		}
		if d.Class != ClassRateLimited {
			t.Errorf("attempt %d: expected rate_limited class, got %q", attempt, d.Class)
		}
		if d.Delay != w*time.Millisecond {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w*time.Millisecond, d.Delay)
		}
	}
}

func TestClassify_RateLimitCeilingConfigurable(t *testing.T) {
	p := testPolicy()
	p.RateLimitCeiling = 45
	d := p.Classify(Outcome{StatusCode: 429}, 1)
	if d.Delay != 45*time.Millisecond {
		t.Errorf("expected delay capped at 45ms, got %v", d.Delay)
	}
}

func TestClassify_ServerErrorSchedule(t *testing.T) {
	p := testPolicy()
	want := []time.Duration{5, 10, 20, 40, 60, 60}
	for attempt, w := range want {
		d := p.Classify(Outcome{StatusCode: 503}, attempt)
		if d.Kind != KindRetry || d.Class != ClassServer {
			t.Fatalf("attempt %d: expected server retry, got %+v", attempt, d)
		}
		if d.Delay != w*time.Millisecond {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w*time.Millisecond, d.Delay)
		}
	}
}

func TestClassify_TimeoutSchedule(t *testing.T) {
	p := testPolicy()
	err := fmt.Errorf("post: %w", context.DeadlineExceeded)
	want := []time.Duration{5, 10, 20, 30, 30}
	for attempt, w := range want {
		d := p.Classify(Outcome{Err: err}, attempt)
		if d.Kind != KindRetry || d.Class != ClassTimeout {
			t.Fatalf("attempt %d: expected timeout retry, got %+v", attempt, d)
		}
		if d.Delay != w*time.Millisecond {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w*time.Millisecond, d.Delay)
		}
	}
}

func TestClassify_ClientErrorFailsImmediately(t *testing.T) {
	p := testPolicy()
	for _, code := range []int{400, 401, 403, 404, 408, 422} {
		d := p.Classify(Outcome{StatusCode: code, Err: errors.New("rejected")}, 0)
		if d.Kind != KindFail {
			t.Errorf("status %d: expected fail, got %s", code, d.Kind)
		}
		if d.Reason != fmt.Sprint(code) {
			t.Errorf("status %d: expected reason %q, got %q", code, fmt.Sprint(code), d.Reason)
		}
	}
}

func TestClassify_UnexpectedErrorRetriesThenFails(t *testing.T) {
	p := testPolicy()
	err := errors.New("connection reset by peer")

	d := p.Classify(Outcome{Err: err}, 0)
	if d.Kind != KindRetry {
		t.Fatalf("expected retry on first attempt, got %s", d.Kind)
	}
	if d.Delay < time.Millisecond || d.Delay > 2*time.Millisecond {
		t.Errorf("expected 1-2ms flat delay, got %v", d.Delay)
	}

	d = p.Classify(Outcome{Err: err}, p.MaxAttempts-1)
	if d.Kind != KindFail {
		t.Fatalf("expected fail on final attempt, got %s", d.Kind)
	}
	if d.Reason != "connection reset by peer" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
}

func TestClassify_JitterStaysWithinBand(t *testing.T) {
	p := DefaultPolicy()
	p.TimeUnit = time.Millisecond
	for i := 0; i < 500; i++ {
		d := p.Classify(Outcome{StatusCode: 502}, 0)
		if d.Delay < 4*time.Millisecond || d.Delay > 6*time.Millisecond {
			t.Fatalf("delay %v outside ±20%% of 5ms", d.Delay)
		}
	}
}

func TestClassify_RateLimitBackoffMonotonicAndCapped(t *testing.T) {
	for _, ceiling := range []float64{50, 120, 200} {
		p := DefaultPolicy()
		p.TimeUnit = time.Millisecond
		p.RateLimitCeiling = ceiling
		p.MaxAttempts = 8
		ceil := time.Duration(ceiling * float64(time.Millisecond))

		for trial := 0; trial < 100; trial++ {
			var prev time.Duration
			reached := false
			for attempt := 0; attempt < p.MaxAttempts; attempt++ {
				d := p.Classify(Outcome{StatusCode: 429}, attempt)
				if d.Delay > ceil {
					t.Fatalf("ceiling %v: delay %v exceeds ceiling", ceil, d.Delay)
				}
				if !reached && d.Delay < prev {
					t.Fatalf("ceiling %v: delay decreased %v -> %v at attempt %d", ceil, prev, d.Delay, attempt)
				}
				if p.BaseDelay(ClassRateLimited, attempt) >= ceiling {
					reached = true
				}
				prev = d.Delay
			}
		}
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(5, 10*time.Millisecond, 90)
	if p.MaxAttempts != 5 || p.TimeUnit != 10*time.Millisecond || p.RateLimitCeiling != 90 {
		t.Errorf("unexpected policy %+v", p)
	}

	p = FromConfig(0, 0, 0)
	def := DefaultPolicy()
	if p.MaxAttempts != def.MaxAttempts || p.TimeUnit != def.TimeUnit || p.RateLimitCeiling != def.RateLimitCeiling {
		t.Errorf("expected defaults, got %+v", p)
	}
}

func TestRetryBudget(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   time.Duration
	}{
		{"defaults", FromConfig(3, time.Millisecond, 120), 108 * time.Millisecond},
		{"no jitter", Policy{MaxAttempts: 3, TimeUnit: time.Millisecond}, 90 * time.Millisecond},
		{"ceiling caps later retries", FromConfig(4, time.Millisecond, 50), (36 + 50 + 50) * time.Millisecond},
		{"single attempt", FromConfig(1, time.Millisecond, 120), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.RetryBudget(); got != tt.want {
				t.Errorf("RetryBudget() = %v, want %v", got, tt.want)
			}
		})
	}
}
