package ratelimit

import (
	"testing"
	"time"
)

func TestCooldownState_Remaining(t *testing.T) {
	now := time.Date(2024, 10, 22, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		blockedUntil  time.Time
		wantRemaining time.Duration
		wantBlocked   bool
	}{
		{
			name:          "zero state",
			wantRemaining: 0,
			wantBlocked:   false,
		},
		{
			name:          "cooldown in the future",
			blockedUntil:  now.Add(30 * time.Second),
			wantRemaining: 30 * time.Second,
			wantBlocked:   true,
		},
		{
			name:          "cooldown passed",
			blockedUntil:  now.Add(-time.Second),
			wantRemaining: 0,
			wantBlocked:   false,
		},
		{
			name:          "cooldown ends now",
			blockedUntil:  now,
			wantRemaining: 0,
			wantBlocked:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := CooldownState{BlockedUntil: tt.blockedUntil}
			if got := state.Remaining(now); got != tt.wantRemaining {
				t.Errorf("Remaining() = %v, want %v", got, tt.wantRemaining)
			}
			if got := state.IsBlocked(now); got != tt.wantBlocked {
				t.Errorf("IsBlocked() = %v, want %v", got, tt.wantBlocked)
			}
		})
	}
}

func TestCooldownState_Extend(t *testing.T) {
	now := time.Date(2024, 10, 22, 12, 0, 0, 0, time.UTC)
	var state CooldownState

	if !state.Extend(now, now.Add(10*time.Second)) {
		t.Error("first Extend() should move the deadline")
	}
	if state.Throttles != 1 {
		t.Errorf("Throttles = %d, want 1", state.Throttles)
	}

	// A shorter cooldown never pulls the deadline back.
	later := now.Add(time.Second)
	if state.Extend(later, later.Add(2*time.Second)) {
		t.Error("shorter Extend() should not move the deadline")
	}
	if !state.BlockedUntil.Equal(now.Add(10 * time.Second)) {
		t.Errorf("BlockedUntil = %v, want %v", state.BlockedUntil, now.Add(10*time.Second))
	}
	if !state.LastThrottle.Equal(later) {
		t.Errorf("LastThrottle = %v, want %v", state.LastThrottle, later)
	}
	if state.Throttles != 2 {
		t.Errorf("Throttles = %d, want 2", state.Throttles)
	}
}

func TestCooldownState_IsStale(t *testing.T) {
	now := time.Date(2024, 10, 22, 12, 0, 0, 0, time.UTC)
	state := CooldownState{LastThrottle: now.Add(-5 * time.Minute)}

	if state.IsStale(now, 10*time.Minute) {
		t.Error("IsStale() = true for a throttle within maxAge")
	}
	if !state.IsStale(now, time.Minute) {
		t.Error("IsStale() = false for a throttle older than maxAge")
	}
}

func TestClampCooldown(t *testing.T) {
	tests := []struct {
		in    time.Duration
		floor time.Duration
		want  time.Duration
	}{
		{0, 0, MinCooldown},
		{-time.Second, 0, MinCooldown},
		{500 * time.Millisecond, 0, MinCooldown},
		{5 * time.Second, 0, 5 * time.Second},
		{time.Hour, 0, MaxCooldown},
		{0, 1500 * time.Millisecond, 1500 * time.Millisecond},
		{time.Hour, 2 * time.Minute, MaxCooldown},
		{time.Hour, 20 * time.Minute, 20 * time.Minute},
		{time.Minute, 15 * time.Minute, 15 * time.Minute},
	}

	for _, tt := range tests {
		if got := ClampCooldown(tt.in, tt.floor); got != tt.want {
			t.Errorf("ClampCooldown(%v, %v) = %v, want %v", tt.in, tt.floor, got, tt.want)
		}
	}
}

func TestRedisKeyCooldown(t *testing.T) {
	want := "socrata:rate_limit:data.cityofchicago.org:cooldown"
	if got := RedisKeyCooldown("data.cityofchicago.org"); got != want {
		t.Errorf("RedisKeyCooldown() = %q, want %q", got, want)
	}
}
