// Package impact attributes host damage callbacks to engine projectiles and
// reports the ones operators care about.
package impact

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/host"
	"barrage/internal/tracker"
)

const (
	// DirectShake is applied to a player hit directly.
	DirectShake = 1.0
	// NearbyShake is applied to players near a hit structure.
	NearbyShake = 0.5
)

// Tracked is the part of the entity tracker the classifier reads.
type Tracked interface {
	IsTracked(handle domain.Handle) bool
	Lookup(handle domain.Handle) (tracker.Entry, bool)
	NearestTracked(position domain.Vec3, maxDistance float64) (domain.Handle, bool)
}

// Options controls attribution and filtering.
type Options struct {
	Proximity       float64
	MinDamage       float64
	ReportUnowned   bool
	PrefabDenylist  []string
	FilteredWeapons []string
	ScreenShake     bool
	ShakeRadius     float64
}

// OptionsFromConfig maps impact config section to classifier options.
// Params: impact section and the events.screen_shake switch.
// Returns: classifier options with lower-cased match lists.
func OptionsFromConfig(cfg config.ImpactConfig, screenShake bool) Options {
	return Options{
		Proximity:       cfg.Proximity,
		MinDamage:       cfg.MinDamage,
		ReportUnowned:   cfg.ReportUnowned,
		PrefabDenylist:  lowerAll(cfg.PrefabDenylist),
		FilteredWeapons: lowerAll(cfg.FilteredWeapons),
		ScreenShake:     screenShake,
		ShakeRadius:     cfg.ShakeRadius,
	}
}

// Classifier turns damage callbacks into impact records.
type Classifier struct {
	tracked Tracked
	players func() []domain.Player
	effects host.Effects
	opts    Options
	logger  *slog.Logger
}

// NewClassifier creates classifier.
// Params: tracker view, online player source, effects sink, options and optional logger.
// Returns: classifier.
func NewClassifier(tracked Tracked, players func() []domain.Player, effects host.Effects, opts Options, logger *slog.Logger) *Classifier {
	if players == nil {
		players = func() []domain.Player { return nil }
	}
	return &Classifier{tracked: tracked, players: players, effects: effects, opts: opts, logger: logger}
}

// SetOptions replaces filtering options.
func (c *Classifier) SetOptions(opts Options) {
	c.opts = opts
}

// Classify attributes damage to a tracked projectile and filters it.
// Params: damage callback.
// Returns: impact record and true when it should be reported.
//
// Reported impacts shake the hit player, or players near a hit structure.
func (c *Classifier) Classify(ev domain.DamageEvent) (domain.ImpactRecord, bool) {
	handle, ok := c.attribute(ev)
	if !ok {
		return domain.ImpactRecord{}, false
	}

	kind := targetKind(ev)
	if kind != domain.TargetPlayer {
		if matchesAny(ev.TargetPrefab, c.opts.PrefabDenylist) {
			return domain.ImpactRecord{}, false
		}
		if ev.Damage < c.opts.MinDamage {
			return domain.ImpactRecord{}, false
		}
		if matchesAny(ev.Weapon, c.opts.FilteredWeapons) {
			return domain.ImpactRecord{}, false
		}
		if kind == domain.TargetOther && !c.opts.ReportUnowned {
			return domain.ImpactRecord{}, false
		}
	}

	record := domain.ImpactRecord{
		TargetKind: kind,
		Damage:     ev.Damage,
		Weapon:     ev.Weapon,
		Position:   ev.Position,
		Handle:     handle,
	}
	if entry, found := c.tracked.Lookup(handle); found {
		record.EventID = entry.EventID
	}
	switch kind {
	case domain.TargetPlayer:
		record.TargetLabel = "Player"
		record.OwnerLabel = ev.TargetName
		if record.OwnerLabel == "" {
			record.OwnerLabel = string(ev.Target)
		}
	case domain.TargetOwnedStructure:
		record.TargetLabel = ev.TargetPrefab
		if ev.OwnerName != "" {
			record.OwnerLabel = "Owner: " + ev.OwnerName
		} else {
			record.OwnerLabel = "OwnerID: " + strconv.FormatUint(ev.OwnerID, 10)
		}
	default:
		record.TargetLabel = ev.TargetPrefab
	}

	c.shake(ev, kind)
	return record, true
}

// attribute finds the projectile responsible for damage.
func (c *Classifier) attribute(ev domain.DamageEvent) (domain.Handle, bool) {
	if ev.Initiator != "" && c.tracked.IsTracked(ev.Initiator) {
		return ev.Initiator, true
	}
	if c.opts.Proximity <= 0 {
		return "", false
	}
	return c.tracked.NearestTracked(ev.Position, c.opts.Proximity)
}

func (c *Classifier) shake(ev domain.DamageEvent, kind domain.TargetKind) {
	if !c.opts.ScreenShake || c.effects == nil {
		return
	}
	switch kind {
	case domain.TargetPlayer:
		c.sendShake(string(ev.Target), DirectShake)
	case domain.TargetOwnedStructure:
		for _, player := range c.players() {
			if player.Position.Distance(ev.Position) <= c.opts.ShakeRadius {
				c.sendShake(player.ID, NearbyShake)
			}
		}
	}
}

func (c *Classifier) sendShake(playerID string, intensity float64) {
	if err := c.effects.Shake(playerID, intensity); err != nil && c.logger != nil {
		c.logger.Warn("screen shake failed", "player_id", playerID, "error", err.Error())
	}
}

func targetKind(ev domain.DamageEvent) domain.TargetKind {
	switch {
	case ev.IsPlayer:
		return domain.TargetPlayer
	case ev.OwnerID != 0:
		return domain.TargetOwnedStructure
	default:
		return domain.TargetOther
	}
}

func matchesAny(value string, needles []string) bool {
	value = strings.ToLower(value)
	if value == "" {
		return false
	}
	for _, needle := range needles {
		if needle != "" && strings.Contains(value, needle) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// describe renders the one-line console summary of an impact.
func describe(record domain.ImpactRecord) string {
	label := record.TargetLabel
	if record.OwnerLabel != "" {
		label += " (" + record.OwnerLabel + ")"
	}
	return fmt.Sprintf("%s | Damage: %.1f | Position: %.0f, %.0f, %.0f",
		label, record.Damage, record.Position.X, record.Position.Y, record.Position.Z)
}
