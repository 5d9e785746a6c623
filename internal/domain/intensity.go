package domain

import (
	"fmt"
	"strings"
	"time"
)

// IntensityName is explicit severity tier tag carried with every profile.
// Params: mild/medium/extreme constants.
// Returns: stable identity for selection, markers and notifications.
type IntensityName string

const (
	// IntensityMild is the lightest tier.
	IntensityMild IntensityName = "mild"
	// IntensityMedium is the default tier for operator triggers.
	IntensityMedium IntensityName = "medium"
	// IntensityExtreme is the heaviest tier.
	IntensityExtreme IntensityName = "extreme"
)

// IntensityNames lists tiers in ascending severity.
var IntensityNames = []IntensityName{IntensityMild, IntensityMedium, IntensityExtreme}

// ParseIntensity resolves user-supplied tier name.
// Params: case-insensitive name; "optimal" is accepted for medium.
// Returns: tier or error for unknown name.
func ParseIntensity(raw string) (IntensityName, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mild":
		return IntensityMild, nil
	case "medium", "optimal":
		return IntensityMedium, nil
	case "extreme":
		return IntensityExtreme, nil
	default:
		return "", fmt.Errorf("unknown intensity %q", raw)
	}
}

// Title returns capitalised tier label.
func (n IntensityName) Title() string {
	switch n {
	case IntensityMild:
		return "Mild"
	case IntensityMedium:
		return "Medium"
	case IntensityExtreme:
		return "Extreme"
	default:
		return "Unknown"
	}
}

// MarkerLabel renders map marker hover text.
// Params: grid reference of event origin.
// Returns: label like "Meteor Shower (Mild) - G7".
func (n IntensityName) MarkerLabel(grid string) string {
	noun := "Meteor Shower"
	if n == IntensityExtreme {
		noun = "Meteor Storm"
	}
	return fmt.Sprintf("%s (%s) - %s", noun, n.Title(), grid)
}

// MarkerColor returns RGB hex colour used for map markers and embeds.
func (n IntensityName) MarkerColor() string {
	switch n {
	case IntensityMild:
		return "#00FF00"
	case IntensityExtreme:
		return "#FF0000"
	default:
		return "#FFFF00"
	}
}

// Drop is one reward line paid when a tracked projectile is destroyed.
type Drop struct {
	Shortname string `json:"shortname"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
}

// Profile is immutable parameter bundle for one intensity tier.
// Params: tier name, spawn geometry, pacing, damage and reward settings.
// Returns: read-only input for one event lifetime.
type Profile struct {
	Name             IntensityName `json:"name"`
	Radius           float64       `json:"radius"`
	RocketCount      int           `json:"rocket_count"`
	Duration         time.Duration `json:"duration"`
	FireChance       int           `json:"fire_chance"`
	DamageMultiplier float64       `json:"damage_multiplier"`
	DropMultiplier   float64       `json:"drop_multiplier"`
	DropsEnabled     bool          `json:"drops_enabled"`
	Drops            []Drop        `json:"drops,omitempty"`
}

// SpawnInterval returns fixed delay between consecutive spawns.
// Params: none.
// Returns: duration/rocket_count or zero for empty profile.
func (p Profile) SpawnInterval() time.Duration {
	if p.RocketCount <= 0 {
		return 0
	}
	return p.Duration / time.Duration(p.RocketCount)
}
