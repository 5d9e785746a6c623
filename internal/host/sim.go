package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"barrage/internal/domain"
)

// Drop is one item drop recorded by the simulation.
type Drop struct {
	Shortname string
	Amount    int
	Position  domain.Vec3
}

// Shake is one screen shake recorded by the simulation.
type Shake struct {
	PlayerID  string
	Intensity float64
}

// HookCall is one published hook recorded by the simulation.
type HookCall struct {
	Hook    string
	Payload any
}

// Sim is an in-memory host that logs and records everything the engine asks of it.
// It backs single-mode runs and engine tests.
type Sim struct {
	logger *slog.Logger

	mu         sync.Mutex
	nextID     int
	missing    map[Variant]bool
	failNext   []error
	spawns     []SpawnRequest
	markers    map[string]Marker
	drops      []Drop
	shakes     []Shake
	broadcasts []string
	hooks      []HookCall
}

// NewSim creates empty simulated host.
// Params: optional logger.
// Returns: simulation with every projectile definition present.
func NewSim(logger *slog.Logger) *Sim {
	return &Sim{
		logger:  logger,
		missing: make(map[Variant]bool),
		markers: make(map[string]Marker),
	}
}

// SetMissing toggles whether a projectile variant definition exists.
func (s *Sim) SetMissing(variant Variant, missing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[variant] = missing
}

// FailNext makes the next len(errs) spawns fail with the given errors in order.
func (s *Sim) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, errs...)
}

// Spawn records projectile and returns a fresh handle.
// Params: context (unused) and spawn request.
// Returns: handle, ErrDefinitionMissing for missing variants, or a queued failure.
func (s *Sim) Spawn(_ context.Context, req SpawnRequest) (domain.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missing[req.Variant] {
		return "", fmt.Errorf("spawn %s: %w", req.Variant, ErrDefinitionMissing)
	}
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		if err != nil {
			return "", err
		}
	}
	s.nextID++
	handle := domain.Handle(fmt.Sprintf("sim-%d", s.nextID))
	s.spawns = append(s.spawns, req)
	if s.logger != nil {
		s.logger.Debug("sim spawn", "handle", handle, "variant", req.Variant, "event_id", req.EventID)
	}
	return handle, nil
}

// DropItem records item drop.
func (s *Sim) DropItem(_ context.Context, shortname string, amount int, position domain.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops = append(s.drops, Drop{Shortname: shortname, Amount: amount, Position: position})
	if s.logger != nil {
		s.logger.Debug("sim drop", "item", shortname, "amount", amount)
	}
	return nil
}

// AddMarker stores marker by id.
func (s *Sim) AddMarker(_ context.Context, marker Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[marker.ID] = marker
	return nil
}

// RemoveMarkers drops every marker of one event.
func (s *Sim) RemoveMarkers(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, marker := range s.markers {
		if marker.EventID == eventID {
			delete(s.markers, id)
		}
	}
	return nil
}

// RemoveAllMarkers drops every marker.
func (s *Sim) RemoveAllMarkers(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.markers)
	return nil
}

// Shake records screen shake.
func (s *Sim) Shake(playerID string, intensity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shakes = append(s.shakes, Shake{PlayerID: playerID, Intensity: intensity})
	return nil
}

// Broadcast records chat line.
func (s *Sim) Broadcast(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, message)
	if s.logger != nil {
		s.logger.Info("sim broadcast", "message", message)
	}
	return nil
}

// Publish records hook.
func (s *Sim) Publish(hook string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, HookCall{Hook: hook, Payload: payload})
	return nil
}

// Spawns returns recorded spawn requests.
func (s *Sim) Spawns() []SpawnRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SpawnRequest(nil), s.spawns...)
}

// Markers returns live markers sorted by id.
func (s *Sim) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, 0, len(s.markers))
	for _, marker := range s.markers {
		out = append(out, marker)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drops returns recorded item drops.
func (s *Sim) Drops() []Drop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Drop(nil), s.drops...)
}

// Shakes returns recorded screen shakes.
func (s *Sim) Shakes() []Shake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Shake(nil), s.shakes...)
}

// Broadcasts returns recorded chat lines.
func (s *Sim) Broadcasts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.broadcasts...)
}

// Hooks returns recorded hooks.
func (s *Sim) Hooks() []HookCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HookCall(nil), s.hooks...)
}

// HookNames returns recorded hook names in order.
func (s *Sim) HookNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.hooks))
	for _, call := range s.hooks {
		out = append(out, call.Hook)
	}
	return out
}
