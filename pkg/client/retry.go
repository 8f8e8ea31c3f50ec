package client

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	socrataRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socrata_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	socrataRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socrata_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	socrataRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socrata_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy holds the configuration for per-page retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of requests for one page on
	// transient failures (including the initial request).
	MaxAttempts int

	// RateLimitAttempts is the separate budget of 429 responses tolerated
	// for one page.
	RateLimitAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter adds up to this fraction of the backoff on top of it. Jitter
	// never shortens a wait below the request delay.
	Jitter float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		RateLimitAttempts: 5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", p.MaxAttempts)
	}
	if p.RateLimitAttempts < 1 {
		return fmt.Errorf("rate_limit_attempts must be >= 1 (got %d)", p.RateLimitAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must be >= 0")
	}
	if p.MaxBackoff < p.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", p.MaxBackoff, p.InitialBackoff)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", p.BackoffMultiplier)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be in [0, 1] (got %v)", p.Jitter)
	}
	return nil
}

// Backoff returns the wait after the n-th failure (n >= 1) of a page. The
// exponential value is capped at MaxBackoff, then raised to floor, then
// jittered upwards.
func (p RetryPolicy) Backoff(n int, floor time.Duration) time.Duration {
	return p.backoff(n, floor, rand.Float64)
}

func (p RetryPolicy) backoff(n int, floor time.Duration, random func() float64) time.Duration {
	if n < 1 {
		n = 1
	}

	base := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(n-1))
	if base > float64(p.MaxBackoff) {
		base = float64(p.MaxBackoff)
	}

	wait := time.Duration(base)
	if wait < floor {
		wait = floor
	}

	if p.Jitter > 0 {
		wait += time.Duration(float64(wait) * p.Jitter * random())
	}
	return wait
}
