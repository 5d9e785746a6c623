// Package host defines what the engine needs from the game server and provides
// an in-memory simulation plus a NATS bridge to a real server plugin.
package host

import (
	"context"
	"errors"

	"barrage/internal/domain"
)

var (
	// ErrDefinitionMissing means the host has no definition for the requested variant.
	ErrDefinitionMissing = errors.New("projectile definition missing")
	// ErrComponentMissing means the spawned entity lacks a required component.
	ErrComponentMissing = errors.New("projectile component missing")
)

// Variant selects the projectile definition.
type Variant string

const (
	// VariantBasic is the plain explosive projectile.
	VariantBasic Variant = "basic"
	// VariantIncendiary leaves fire on impact.
	VariantIncendiary Variant = "incendiary"
)

// ProjectileKind is the only entity kind the engine spawns.
const ProjectileKind = "rocket"

// SpawnRequest asks the host to create one projectile.
type SpawnRequest struct {
	Kind        string      `json:"kind"`
	Variant     Variant     `json:"variant"`
	Position    domain.Vec3 `json:"position"`
	Velocity    domain.Vec3 `json:"velocity"`
	DamageScale float64     `json:"damage_scale"`
	EventID     string      `json:"event_id,omitempty"`
}

// Marker is one map marker owned by an event.
type Marker struct {
	ID       string      `json:"id"`
	EventID  string      `json:"event_id"`
	Position domain.Vec3 `json:"position"`
	Radius   float64     `json:"radius,omitempty"`
	Label    string      `json:"label,omitempty"`
	Color    string      `json:"color,omitempty"`
}

// Spawner creates projectiles and item drops.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (domain.Handle, error)
	DropItem(ctx context.Context, shortname string, amount int, position domain.Vec3) error
}

// Markers manages event map markers.
type Markers interface {
	AddMarker(ctx context.Context, marker Marker) error
	RemoveMarkers(ctx context.Context, eventID string) error
	RemoveAllMarkers(ctx context.Context) error
}

// Effects sends client-side feedback. Implementations must not block.
type Effects interface {
	Shake(playerID string, intensity float64) error
}

// Broadcaster sends a chat line to every online player.
type Broadcaster interface {
	Broadcast(message string) error
}

// Hooks publishes lifecycle hooks for other server plugins and services.
type Hooks interface {
	Publish(hook string, payload any) error
}

// Telemetry reports host population and health.
type Telemetry interface {
	PlayerCount() int
	FrameRate() float64
	MapSize() float64
	Players() []domain.Player
	FindPlayer(query string) (domain.Player, bool)
}

// Host is the full game-server surface the engine drives.
type Host interface {
	Spawner
	Markers
	Effects
	Broadcaster
	Hooks
}

// Hook names published by the engine.
const (
	HookEventStarted = "started"
	HookEventEnded   = "ended"
	HookEventSkipped = "skipped"
	HookImpact       = "impact"
)
