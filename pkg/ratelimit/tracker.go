package ratelimit

import (
	"context"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socrata_rate_limit_cooldowns_total",
		Help: "Total number of 429 responses that started or extended a cooldown",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "socrata_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limit cooldown to pass",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
	})
)

// Tracker gates requests on the recorded cooldown.
type Tracker struct {
	store  Store
	clock  clock.Clock
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker. A nil store keeps state in
// memory; a nil clock uses the wall clock.
func NewTracker(store Store, clk clock.Clock, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// GetState retrieves the current cooldown state.
func (t *Tracker) GetState(ctx context.Context) (CooldownState, error) {
	return t.store.Load(ctx)
}

// RecordThrottle starts a cooldown of wait after a 429, clamped to the
// cooldown bounds but never shorter than floor. An existing longer
// cooldown is kept.
func (t *Tracker) RecordThrottle(ctx context.Context, wait, floor time.Duration) error {
	wait = ClampCooldown(wait, floor)
	now := t.clock.Now()

	state, err := t.store.Load(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to load cooldown state, starting fresh")
		state = CooldownState{}
	}

	rateLimitCooldownsTotal.Inc()
	if !state.Extend(now, now.Add(wait)) {
		t.logger.Debug().
			Time("blocked_until", state.BlockedUntil).
			Msg("Existing cooldown already covers throttle")
	}

	if err := t.store.Save(ctx, state, state.Remaining(now)); err != nil {
		return err
	}

	t.logger.Warn().
		Dur("cooldown", wait).
		Time("blocked_until", state.BlockedUntil).
		Int("throttles", state.Throttles).
		Msg("Rate limited by server - cooling down")

	return nil
}

// Wait blocks until the cooldown has passed or ctx is done. A store that
// cannot be read does not block the request.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.store.Load(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Cooldown state unavailable - proceeding without wait")
		return ctx.Err()
	}

	remaining := state.Remaining(t.clock.Now())
	if remaining <= 0 {
		return ctx.Err()
	}

	t.logger.Info().
		Dur("wait_duration", remaining).
		Msg("Waiting for rate limit cooldown")
	rateLimitWaitSeconds.Observe(remaining.Seconds())

	return t.clock.Sleep(ctx, remaining)
}
