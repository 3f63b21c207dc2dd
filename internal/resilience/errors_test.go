package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestStatusCode_Wrapped(t *testing.T) {
	inner := NewStatusError(errors.New("too many requests"), 429)
	wrapped := fmt.Errorf("api call failed: %w", inner)
	if got := StatusCode(wrapped); got != 429 {
		t.Errorf("expected 429, got %d", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Errorf("expected 0 for plain error, got %d", got)
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"client timeout text", errors.New("Post \"x\": context deadline (Client.Timeout exceeded while awaiting headers)"), true},
		{"io timeout text", errors.New("read tcp: i/o timeout"), true},
		{"reset", errors.New("connection reset by peer"), false},
		{"cancelled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOutcomeFromError(t *testing.T) {
	o := OutcomeFromError(NewStatusError(errors.New("bad gateway"), 502))
	if o.StatusCode != 502 || o.Err == nil {
		t.Errorf("unexpected outcome %+v", o)
	}
}
