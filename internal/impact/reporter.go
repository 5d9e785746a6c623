package impact

import (
	"fmt"
	"log/slog"

	"barrage/internal/clock"
	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/host"
	"barrage/internal/metrics"
	"barrage/internal/notifyqueue"
)

// Notifier accepts outbound notifications.
type Notifier interface {
	EnqueueOrSend(notification domain.Notification) notifyqueue.Outcome
}

// Reporter logs impacts, publishes the impact hook and notifies admins.
type Reporter struct {
	notifier Notifier
	hooks    host.Hooks
	clock    clock.Clock
	mapSize  func() float64
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// NewReporter creates reporter.
// Params: notifier, hook publisher, clock, map size source, metrics and logger.
// Returns: reporter.
func NewReporter(notifier Notifier, hooks host.Hooks, clk clock.Clock, mapSize func() float64, rec *metrics.Recorder, logger *slog.Logger) *Reporter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Reporter{notifier: notifier, hooks: hooks, clock: clk, mapSize: mapSize, metrics: rec, logger: logger}
}

// Report emits every side effect for one impact.
// Params: classified impact.
// Returns: none; hook failures are logged.
func (r *Reporter) Report(record domain.ImpactRecord) {
	if r.logger != nil {
		r.logger.Info("meteor impact: "+describe(record),
			"event_id", record.EventID,
			"target_kind", record.TargetKind,
			"handle", record.Handle,
		)
	}
	r.metrics.Impact(string(record.TargetKind))
	if r.hooks != nil {
		if err := r.hooks.Publish(host.HookImpact, record); err != nil && r.logger != nil {
			r.logger.Warn("impact hook publish failed", "error", err.Error())
		}
	}
	if r.notifier != nil {
		r.notifier.EnqueueOrSend(r.notification(record))
	}
}

func (r *Reporter) notification(record domain.ImpactRecord) domain.Notification {
	mapSize := 0.0
	if r.mapSize != nil {
		mapSize = r.mapSize()
	}
	fields := []domain.Field{
		{Name: "Target", Value: record.TargetLabel, Inline: true},
	}
	if record.OwnerLabel != "" {
		fields = append(fields, domain.Field{Name: "Owner", Value: record.OwnerLabel, Inline: true})
	}
	fields = append(fields,
		domain.Field{Name: "Damage", Value: fmt.Sprintf("%.1f", record.Damage), Inline: true},
		domain.Field{Name: "Grid", Value: domain.GridReference(record.Position, mapSize), Inline: true},
		domain.Field{Name: "Position", Value: fmt.Sprintf("%.0f, %.0f, %.0f", record.Position.X, record.Position.Y, record.Position.Z)},
		domain.Field{Name: "Teleport", Value: domain.TeleportHint(record.Position)},
	)
	if record.Weapon != "" {
		fields = append(fields, domain.Field{Name: "Weapon", Value: record.Weapon, Inline: true})
	}
	return domain.Notification{
		Category:  config.CategoryAdmin,
		Kind:      domain.KindImpact,
		EventID:   record.EventID,
		Title:     "Meteor Impact: " + record.TargetLabel,
		Severity:  domain.SeverityWarning,
		Fields:    fields,
		Timestamp: r.clock.Now(),
	}
}
