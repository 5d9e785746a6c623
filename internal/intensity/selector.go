package intensity

import (
	"fmt"
	"math/rand/v2"

	"barrage/internal/domain"
)

// NameForRoll maps a roll in [1,100] to a tier.
// Params: roll value; [1,50] mild, [51,80] medium, [81,100] extreme.
// Returns: tier name (values outside the range clamp to the nearest tier).
func NameForRoll(roll int) domain.IntensityName {
	switch {
	case roll <= 50:
		return domain.IntensityMild
	case roll <= 80:
		return domain.IntensityMedium
	default:
		return domain.IntensityExtreme
	}
}

// Roller draws a uniform integer in [1,100].
type Roller func() int

// DefaultRoller draws from the process random source.
func DefaultRoller() int {
	return rand.IntN(100) + 1
}

// Selector picks a profile for a trigger from the loaded tiers.
type Selector struct {
	profiles map[domain.IntensityName]domain.Profile
	roll     Roller
}

// NewSelector creates selector over exactly three loaded profiles.
// Params: profiles keyed by tier and optional roller.
// Returns: selector or error when a tier is missing.
func NewSelector(profiles map[domain.IntensityName]domain.Profile, roll Roller) (*Selector, error) {
	copied := make(map[domain.IntensityName]domain.Profile, len(profiles))
	for _, name := range domain.IntensityNames {
		profile, ok := profiles[name]
		if !ok {
			return nil, fmt.Errorf("intensity %q is not configured", name)
		}
		profile.Name = name
		copied[name] = profile
	}
	if roll == nil {
		roll = DefaultRoller
	}
	return &Selector{profiles: copied, roll: roll}, nil
}

// Select returns profile for trigger.
// Params: trigger kind and explicit tier (ignored for automatic/random triggers).
// Returns: weighted-random profile for automatic/random, the explicit one otherwise.
func (s *Selector) Select(trigger domain.TriggerKind, explicit domain.IntensityName) domain.Profile {
	if trigger == domain.TriggerAutomatic || trigger == domain.TriggerRandom || explicit == "" {
		return s.profiles[NameForRoll(s.roll())]
	}
	if profile, ok := s.profiles[explicit]; ok {
		return profile
	}
	return s.profiles[domain.IntensityMedium]
}

// Profile returns configured profile for tier.
func (s *Selector) Profile(name domain.IntensityName) (domain.Profile, bool) {
	profile, ok := s.profiles[name]
	return profile, ok
}
