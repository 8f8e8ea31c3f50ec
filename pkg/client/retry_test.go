package client

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", policy.MaxAttempts)
	}
	if policy.RateLimitAttempts != 5 {
		t.Errorf("RateLimitAttempts = %d, want 5", policy.RateLimitAttempts)
	}
	if policy.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", policy.InitialBackoff)
	}
	if policy.MaxBackoff != 60*time.Second {
		t.Errorf("MaxBackoff = %v, want 60s", policy.MaxBackoff)
	}
	if policy.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", policy.BackoffMultiplier)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*RetryPolicy)
		errorMsg string
	}{
		{"zero attempts", func(p *RetryPolicy) { p.MaxAttempts = 0 }, "max_attempts"},
		{"zero rate limit attempts", func(p *RetryPolicy) { p.RateLimitAttempts = 0 }, "rate_limit_attempts"},
		{"negative backoff", func(p *RetryPolicy) { p.InitialBackoff = -time.Second }, "backoff durations"},
		{"max below initial", func(p *RetryPolicy) { p.MaxBackoff = 500 * time.Millisecond }, "max_backoff"},
		{"shrinking multiplier", func(p *RetryPolicy) { p.BackoffMultiplier = 0.5 }, "backoff_multiplier"},
		{"jitter too large", func(p *RetryPolicy) { p.Jitter = 1.5 }, "jitter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultRetryPolicy()
			tt.mutate(&policy)

			err := policy.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.errorMsg)
			}
		})
	}
}

func TestRetryPolicy_ExponentialBackoff(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Jitter = 0

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second,
	}

	for i, want := range expected {
		if got := policy.Backoff(i+1, 0); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, want)
		}
	}
}

func TestRetryPolicy_FloorIsDelay(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Jitter = 0
	delay := 1500 * time.Millisecond

	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, delay},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.Backoff(tt.n, delay); got != tt.want {
			t.Errorf("Backoff(%d, %v) = %v, want %v", tt.n, delay, got, tt.want)
		}
	}

	// A delay above MaxBackoff still wins.
	if got := policy.Backoff(10, 2*time.Minute); got != 2*time.Minute {
		t.Errorf("Backoff with large delay = %v, want 2m", got)
	}
}

func TestRetryPolicy_JitterOnlyAddsTime(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Jitter = 0.2
	delay := 3 * time.Second

	for i := 0; i < 100; i++ {
		got := policy.Backoff(1, delay)
		if got < delay {
			t.Fatalf("Backoff() = %v, below delay %v", got, delay)
		}
		if got > time.Duration(float64(delay)*1.2) {
			t.Fatalf("Backoff() = %v, above jitter bound", got)
		}
	}
}

func TestRetryPolicy_DeterministicJitter(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Jitter = 0.5

	got := policy.backoff(2, 0, func() float64 { return 1 })
	if want := 3 * time.Second; got != want {
		t.Errorf("backoff() = %v, want %v", got, want)
	}

	got = policy.backoff(0, 0, func() float64 { return 0 })
	if want := 1 * time.Second; got != want {
		t.Errorf("backoff(0) = %v, want %v", got, want)
	}
}
