package host

import (
	"strings"
	"sync"
	"time"

	"barrage/internal/domain"
)

// State caches the latest telemetry sample pushed by the host.
// It is written by ingest goroutines and read by the engine loop.
type State struct {
	mu        sync.RWMutex
	sample    domain.Telemetry
	updatedAt time.Time
}

// NewState creates cache seeded with initial telemetry.
// Params: initial sample (zero value means nobody online).
// Returns: telemetry cache.
func NewState(initial domain.Telemetry) *State {
	s := &State{}
	s.Apply(initial, time.Time{})
	return s
}

// Apply replaces the cached sample.
// Params: sample and its host timestamp.
// Returns: none.
func (s *State) Apply(sample domain.Telemetry, at time.Time) {
	players := make([]domain.Player, len(sample.Players))
	copy(players, sample.Players)
	sample.Players = players
	if sample.PlayerCount < len(players) {
		sample.PlayerCount = len(players)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = sample
	s.updatedAt = at
}

// PlayerCount returns online player count.
func (s *State) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample.PlayerCount
}

// FrameRate returns last reported server frame rate.
func (s *State) FrameRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample.FrameRate
}

// MapSize returns reported world size, or 0 when unknown.
func (s *State) MapSize() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample.MapSize
}

// UpdatedAt returns timestamp of the cached sample.
func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Players returns a copy of online players.
func (s *State) Players() []domain.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Player, len(s.sample.Players))
	copy(out, s.sample.Players)
	return out
}

// FindPlayer looks a player up by case-insensitive name fragment.
// Params: name fragment.
// Returns: the match with the fewest characters outside the fragment; ties keep the first listed.
func (s *State) FindPlayer(query string) (domain.Player, bool) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return domain.Player{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best     domain.Player
		bestRest = -1
	)
	for _, player := range s.sample.Players {
		name := strings.ToLower(player.Name)
		if player.ID == query {
			return player, true
		}
		if !strings.Contains(name, needle) {
			continue
		}
		rest := len(strings.ReplaceAll(name, needle, ""))
		if bestRest < 0 || rest < bestRest {
			best = player
			bestRest = rest
		}
	}
	return best, bestRest >= 0
}
