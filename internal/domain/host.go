package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// HostEventType identifies incoming host callback shape.
type HostEventType string

const (
	// HostEventDamage reports damage dealt to an entity.
	HostEventDamage HostEventType = "damage"
	// HostEventDestroyed reports destruction of an entity.
	HostEventDestroyed HostEventType = "destroyed"
	// HostEventTelemetry reports population, frame rate and player positions.
	HostEventTelemetry HostEventType = "telemetry"
)

// Player is one online player as reported by host.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position Vec3   `json:"position"`
}

// DamageEvent describes one damage callback.
type DamageEvent struct {
	Target       Handle  `json:"target"`
	TargetPrefab string  `json:"target_prefab"`
	TargetName   string  `json:"target_name,omitempty"`
	IsPlayer     bool    `json:"is_player"`
	OwnerID      uint64  `json:"owner_id,omitempty"`
	OwnerName    string  `json:"owner_name,omitempty"`
	Initiator    Handle  `json:"initiator,omitempty"`
	Weapon       string  `json:"weapon,omitempty"`
	Damage       float64 `json:"damage"`
	Position     Vec3    `json:"position"`
}

// DestroyedEvent describes one destruction callback.
type DestroyedEvent struct {
	Handle   Handle `json:"handle"`
	Position Vec3   `json:"position"`
}

// Telemetry is one host health sample.
type Telemetry struct {
	PlayerCount int      `json:"player_count"`
	FrameRate   float64  `json:"frame_rate"`
	MapSize     float64  `json:"map_size,omitempty"`
	Players     []Player `json:"players,omitempty"`
}

// HostEvent is normalized host callback envelope.
// Params: unix-millisecond timestamp, type and exactly one matching payload.
// Returns: validated callback for ingest and engine.
type HostEvent struct {
	DT        int64           `json:"dt"`
	Type      HostEventType   `json:"type"`
	Damage    *DamageEvent    `json:"damage,omitempty"`
	Destroyed *DestroyedEvent `json:"destroyed,omitempty"`
	Telemetry *Telemetry      `json:"telemetry,omitempty"`
}

// EventTime converts milliseconds unix timestamp into UTC time.
// Params: event timestamp in unix milliseconds.
// Returns: converted UTC time.
func (e HostEvent) EventTime() time.Time {
	return time.UnixMilli(e.DT).UTC()
}

// DecodeHostEvent decodes and validates one host callback payload.
// Params: JSON document bytes.
// Returns: validated event or decode/validation error.
func DecodeHostEvent(raw []byte) (HostEvent, error) {
	var event HostEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return HostEvent{}, fmt.Errorf("decode host event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return HostEvent{}, err
	}
	return event, nil
}

// DecodeHostEventReader decodes and validates one host callback from stream.
// Params: reader with one JSON object.
// Returns: validated event or decode/validation error.
func DecodeHostEventReader(reader *json.Decoder) (HostEvent, error) {
	var event HostEvent
	if err := reader.Decode(&event); err != nil {
		return HostEvent{}, fmt.Errorf("decode host event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return HostEvent{}, err
	}
	return event, nil
}

// Validate validates one host callback against the contract.
// Params: event fields parsed from transport.
// Returns: validation error when schema is violated.
func (e HostEvent) Validate() error {
	if e.DT <= 0 {
		return errors.New("dt must be >0")
	}
	set := 0
	for _, present := range []bool{e.Damage != nil, e.Destroyed != nil, e.Telemetry != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one payload must be set")
	}

	switch e.Type {
	case HostEventDamage:
		if e.Damage == nil {
			return errors.New("damage payload is required for type=damage")
		}
		if strings.TrimSpace(string(e.Damage.Target)) == "" {
			return errors.New("damage.target is required")
		}
		if e.Damage.Damage < 0 {
			return errors.New("damage.damage must be >=0")
		}
	case HostEventDestroyed:
		if e.Destroyed == nil {
			return errors.New("destroyed payload is required for type=destroyed")
		}
		if strings.TrimSpace(string(e.Destroyed.Handle)) == "" {
			return errors.New("destroyed.handle is required")
		}
	case HostEventTelemetry:
		if e.Telemetry == nil {
			return errors.New("telemetry payload is required for type=telemetry")
		}
		if e.Telemetry.PlayerCount < 0 {
			return errors.New("telemetry.player_count must be >=0")
		}
		if e.Telemetry.FrameRate < 0 {
			return errors.New("telemetry.frame_rate must be >=0")
		}
	default:
		return fmt.Errorf("unsupported type %q", e.Type)
	}
	return nil
}
