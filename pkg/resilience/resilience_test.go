package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.OnError(errors.New("plain failure"))
	cb.OnError(errors.New("plain failure"))
	if !cb.Allow() {
		t.Fatalf("non rate-limit errors must not open the breaker")
	}

	cb.OnError(RateLimitError{Provider: "sentiment"})
	if !cb.Allow() {
		t.Fatalf("breaker opened below threshold")
	}
	cb.OnError(fmt.Errorf("wrapped: %w", RateLimitError{Provider: "sentiment"}))
	if cb.Allow() {
		t.Fatalf("expected breaker open after threshold")
	}
	if cb.OpenUntil().IsZero() {
		t.Fatalf("expected open-until timestamp")
	}

	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker to admit after cooldown")
	}
	cb.OnSuccess()
	if !cb.OpenUntil().IsZero() {
		t.Fatalf("expected closed breaker after success")
	}
}

func TestCircuitBreakerHonoursRetryAfter(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }
	cb.OnError(RateLimitError{Provider: "sentiment", RetryAfter: 30 * time.Second})
	if got := cb.OpenUntil(); !got.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("expected retry-after to extend the cooldown, got %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"7":                             7 * time.Second,
		"-3":                            0,
		"soon":                          0,
		"Mon, 01 Jan 2024 12:01:00 GMT": time.Minute,
		"Mon, 01 Jan 2024 11:00:00 GMT": 0,
	}
	for in, want := range cases {
		if got := ParseRetryAfter(in, now); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}

func TestRetryPolicyZeroValueSingleAttempt(t *testing.T) {
	var calls int
	err := RetryPolicy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one failing attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	var calls int
	p := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	var calls int
	fatal := errors.New("fatal")
	p := RetryPolicy{MaxRetries: 5, Backoff: time.Millisecond, Retryable: func(err error) bool {
		return !errors.Is(err, fatal)
	}}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected single attempt for fatal error, got calls=%d", calls)
	}
}

func TestRetryPolicyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	p := RetryPolicy{MaxRetries: 5, Backoff: time.Hour}
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected cancellation to stop retries, got calls=%d", calls)
	}
}
