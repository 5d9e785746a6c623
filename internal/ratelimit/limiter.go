// Package ratelimit throttles outbound notifications per category.
//
// The limiter is a leaky-bucket-by-category approximation, not a sliding
// window: each category keeps a count since its window start, and the whole
// window is discarded lazily once it is more than a minute old. A burst that
// straddles a window reset can therefore exceed the cap within any 60s span.
package ratelimit

import (
	"time"

	"barrage/internal/clock"
)

// Window is the fixed per-minute accounting period.
const Window = time.Minute

// Limits configures one category.
// Params: MaxPerMinute (<=0 disables the cap) and Cooldown between sends.
type Limits struct {
	MaxPerMinute int
	Cooldown     time.Duration
}

// State is accounting for one category.
type State struct {
	LastSent    time.Time
	Count       int
	WindowStart time.Time
}

// Limiter decides whether a category may send now.
// It is owned by the engine loop and is not safe for concurrent use.
type Limiter struct {
	clock    clock.Clock
	limits   map[string]Limits
	fallback Limits
	states   map[string]*State
}

// New creates limiter with per-category limits.
// Params: clock, category limits and fallback limits for unknown categories.
// Returns: empty limiter.
func New(clk clock.Clock, limits map[string]Limits, fallback Limits) *Limiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	copied := make(map[string]Limits, len(limits))
	for category, limit := range limits {
		copied[category] = limit
	}
	return &Limiter{
		clock:    clk,
		limits:   copied,
		fallback: fallback,
		states:   make(map[string]*State),
	}
}

// SetLimits replaces configured limits and keeps accounting state.
func (l *Limiter) SetLimits(limits map[string]Limits, fallback Limits) {
	copied := make(map[string]Limits, len(limits))
	for category, limit := range limits {
		copied[category] = limit
	}
	l.limits = copied
	l.fallback = fallback
}

// LimitsFor returns effective limits for category.
func (l *Limiter) LimitsFor(category string) Limits {
	if limit, ok := l.limits[category]; ok {
		return limit
	}
	return l.fallback
}

// CanSend reports whether category may send at current time.
// Params: category name.
// Returns: false iff window count reached cap or cooldown has not elapsed.
func (l *Limiter) CanSend(category string) bool {
	now := l.clock.Now()
	state := l.current(category, now)
	if state == nil {
		return true
	}
	limit := l.LimitsFor(category)
	if limit.MaxPerMinute > 0 && state.Count >= limit.MaxPerMinute {
		return false
	}
	if limit.Cooldown > 0 && now.Sub(state.LastSent) < limit.Cooldown {
		return false
	}
	return true
}

// RecordSend accounts one send for category at current time.
// Params: category name.
// Returns: none.
func (l *Limiter) RecordSend(category string) {
	now := l.clock.Now()
	state := l.current(category, now)
	if state == nil {
		state = &State{WindowStart: now}
		l.states[category] = state
	}
	state.Count++
	state.LastSent = now
}

// Snapshot returns accounting state for category.
// Params: category name.
// Returns: state copy and true when category has a live window.
func (l *Limiter) Snapshot(category string) (State, bool) {
	state := l.current(category, l.clock.Now())
	if state == nil {
		return State{}, false
	}
	return *state, true
}

// current returns live state for category, purging a stale window.
func (l *Limiter) current(category string, now time.Time) *State {
	state, ok := l.states[category]
	if !ok {
		return nil
	}
	if now.Sub(state.WindowStart) > Window {
		delete(l.states, category)
		return nil
	}
	return state
}
