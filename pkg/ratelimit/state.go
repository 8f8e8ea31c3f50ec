// Package ratelimit tracks server-imposed throttling (HTTP 429) and gates
// page requests until the cooldown has passed. Cooldowns can be shared
// between jobs using the same app token through a Redis store.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix prefixes all rate limit keys in Redis.
const RedisKeyPrefix = "socrata:rate_limit"

// Cooldown bounds.
const (
	// MinCooldown applies to a 429 that carries no usable Retry-After.
	MinCooldown = 1 * time.Second

	// MaxCooldown caps a single cooldown so a bogus Retry-After cannot stall
	// a job for hours.
	MaxCooldown = 10 * time.Minute
)

// RedisKeyCooldown returns the Redis key holding the cooldown for scope,
// usually the API host.
func RedisKeyCooldown(scope string) string {
	return RedisKeyPrefix + ":" + scope + ":cooldown"
}

// CooldownState is the current throttling state for one API scope.
type CooldownState struct {
	// BlockedUntil is the earliest time the next request may be sent.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastThrottle is when the server last answered 429.
	LastThrottle time.Time `json:"last_throttle"`

	// Throttles counts 429 responses recorded for this scope.
	Throttles int `json:"throttles"`
}

// IsBlocked reports whether requests must wait at now.
func (s *CooldownState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// Remaining returns how long requests must still wait at now.
// Returns 0 if the cooldown has already passed.
func (s *CooldownState) Remaining(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if no throttle was recorded within maxAge.
func (s *CooldownState) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastThrottle) > maxAge
}

// Extend records a throttle at now that blocks until until. The deadline
// only ever moves forward; the return value reports whether it moved.
func (s *CooldownState) Extend(now, until time.Time) bool {
	s.LastThrottle = now
	s.Throttles++
	if until.After(s.BlockedUntil) {
		s.BlockedUntil = until
		return true
	}
	return false
}

// ClampCooldown bounds a requested wait to [MinCooldown, MaxCooldown],
// never going below floor. A floor above MaxCooldown raises the cap.
func ClampCooldown(d, floor time.Duration) time.Duration {
	d = max(d, floor, MinCooldown)
	return min(d, max(MaxCooldown, floor))
}
