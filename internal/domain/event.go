package domain

import "time"

// TriggerKind identifies what started an event.
type TriggerKind string

const (
	// TriggerAutomatic is the periodic or random-interval timer.
	TriggerAutomatic TriggerKind = "automatic"
	// TriggerRandom is an operator request for a random map position.
	TriggerRandom TriggerKind = "random"
	// TriggerPosition is an operator request for an explicit position.
	TriggerPosition TriggerKind = "position"
	// TriggerPlayer is an operator request centred on a player.
	TriggerPlayer TriggerKind = "player"
	// TriggerBarrage is an operator directional barrage.
	TriggerBarrage TriggerKind = "barrage"
)

// Manual reports whether trigger came from an operator.
func (k TriggerKind) Manual() bool {
	return k != TriggerAutomatic && k != TriggerRandom
}

// EventState is one named state of the event lifecycle machine.
type EventState string

const (
	// StatePrecondition evaluates population and frame-rate checks.
	StatePrecondition EventState = "precondition"
	// StateAnnounce runs the optional warning countdown.
	StateAnnounce EventState = "announce"
	// StateActive schedules spawns.
	StateActive EventState = "active"
	// StateDraining waits for in-flight projectiles after last spawn.
	StateDraining EventState = "draining"
	// StateEnded is terminal after normal completion.
	StateEnded EventState = "ended"
	// StateSkipped is terminal after failed preconditions or abort.
	StateSkipped EventState = "skipped"
)

// Terminal reports whether no further transitions are possible.
func (s EventState) Terminal() bool {
	return s == StateEnded || s == StateSkipped
}

// Handle identifies one spawned host entity.
type Handle string

// ActiveEvent is read-only snapshot of one event instance.
// Params: identity, trigger, origin, profile, timing and spawn counters.
// Returns: view for operator surface and notifications.
type ActiveEvent struct {
	ID           string        `json:"id"`
	Trigger      TriggerKind   `json:"trigger"`
	State        EventState    `json:"state"`
	Intensity    IntensityName `json:"intensity"`
	Origin       Vec3          `json:"origin"`
	Grid         string        `json:"grid"`
	Planned      int           `json:"planned"`
	Spawned      int           `json:"spawned"`
	Failed       int           `json:"failed"`
	StartedAt    time.Time     `json:"started_at"`
	PlannedEndAt time.Time     `json:"planned_end_at"`
}
