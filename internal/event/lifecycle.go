package event

import (
	"fmt"
	"strconv"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/host"
)

func (s *Scheduler) startedNotification(ev *instance) domain.Notification {
	title := "Meteor Shower Incoming"
	if ev.trigger == domain.TriggerBarrage {
		title = "Meteor Barrage Fired"
	} else if ev.profile.Name == domain.IntensityExtreme {
		title = "Meteor Storm Incoming"
	}
	fields := []domain.Field{
		{Name: "Trigger", Value: string(ev.trigger), Inline: true},
		{Name: "Grid", Value: ev.grid, Inline: true},
		{Name: "Rockets", Value: strconv.Itoa(ev.planned), Inline: true},
		{Name: "Duration", Value: ev.length.String(), Inline: true},
	}
	if ev.trigger != domain.TriggerBarrage {
		fields = append(fields,
			domain.Field{Name: "Intensity", Value: ev.profile.Name.Title(), Inline: true},
			domain.Field{Name: "Radius", Value: fmt.Sprintf("%.0f", ev.profile.Radius), Inline: true},
		)
	}
	fields = append(fields, domain.Field{Name: "Teleport", Value: domain.TeleportHint(ev.origin)})
	return domain.Notification{
		Category:    config.CategoryEvents,
		Kind:        domain.KindEventStarted,
		EventID:     ev.id,
		Intensity:   ev.profile.Name,
		Title:       title,
		Description: describeEvent(ev),
		Severity:    domain.SeverityInfo,
		Fields:      fields,
	}
}

func (s *Scheduler) endedNotification(ev *instance) domain.Notification {
	return domain.Notification{
		Category:    config.CategoryEvents,
		Kind:        domain.KindEventEnded,
		EventID:     ev.id,
		Intensity:   ev.profile.Name,
		Title:       "Meteor Shower Ended",
		Description: describeEvent(ev),
		Severity:    domain.SeverityInfo,
		Fields: []domain.Field{
			{Name: "Grid", Value: ev.grid, Inline: true},
			{Name: "Spawned", Value: strconv.Itoa(ev.spawned), Inline: true},
			{Name: "Failed", Value: strconv.Itoa(ev.failed), Inline: true},
		},
	}
}

// reportSkip logs, publishes and notifies a skipped or aborted event.
func (s *Scheduler) reportSkip(ev *instance, reason string, severity domain.Severity) {
	s.logger(ev).Info("meteor event skipped", "reason", reason, "trigger", ev.trigger)
	s.deps.Metrics.Event("skipped", string(ev.profile.Name))
	s.publishHook(host.HookEventSkipped, struct {
		domain.ActiveEvent
		Reason string `json:"reason"`
	}{ev.snapshot(), reason})

	category := config.CategoryEvents
	if severity == domain.SeverityCritical {
		category = config.CategoryAdmin
	}
	s.notify(domain.Notification{
		Category:    category,
		Kind:        domain.KindEventSkipped,
		EventID:     ev.id,
		Intensity:   ev.profile.Name,
		Title:       "Meteor Shower Skipped",
		Description: reason,
		Severity:    severity,
		Fields: []domain.Field{
			{Name: "Trigger", Value: string(ev.trigger), Inline: true},
			{Name: "Reason", Value: reason},
			{Name: "Players", Value: strconv.Itoa(s.deps.Telemetry.PlayerCount()), Inline: true},
			{Name: "FPS", Value: fmt.Sprintf("%.0f", s.deps.Telemetry.FrameRate()), Inline: true},
		},
	})
}

func (s *Scheduler) notify(n domain.Notification) {
	if s.deps.Notifier == nil {
		return
	}
	n.Timestamp = s.deps.Loop.Now()
	s.deps.Notifier.EnqueueOrSend(n)
}

func (s *Scheduler) broadcast(message string) {
	if err := s.deps.Host.Broadcast(message); err != nil {
		s.deps.Logger.Warn("broadcast failed", "error", err.Error())
	}
}

func (s *Scheduler) publishHook(hook string, payload any) {
	if ev, ok := payload.(*instance); ok {
		payload = ev.snapshot()
	}
	if err := s.deps.Host.Publish(hook, payload); err != nil {
		s.deps.Logger.Warn("hook publish failed", "hook", hook, "error", err.Error())
	}
}

// addMarkers places the radius ring and the labelled centre marker.
func (s *Scheduler) addMarkers(ev *instance) {
	markers := []host.Marker{
		{
			ID:       ev.id + "-radius",
			EventID:  ev.id,
			Position: ev.origin,
			Radius:   ev.profile.Radius,
			Color:    ev.profile.Name.MarkerColor(),
		},
		{
			ID:       ev.id + "-label",
			EventID:  ev.id,
			Position: ev.origin,
			Label:    ev.profile.Name.MarkerLabel(ev.grid),
			Color:    ev.profile.Name.MarkerColor(),
		},
	}
	for _, marker := range markers {
		ctx, cancel := s.hostContext()
		err := s.deps.Host.AddMarker(ctx, marker)
		cancel()
		if err != nil {
			s.logger(ev).Warn("add marker failed", "marker", marker.ID, "error", err.Error())
		}
	}
}

// startBroadcast renders the chat line sent when a shower begins.
func startBroadcast(ev *instance) string {
	noun := "METEOR SHOWER"
	if ev.profile.Name == domain.IntensityExtreme {
		noun = "METEOR STORM"
	}
	return fmt.Sprintf("%s (%s) incoming at grid %s", noun, ev.profile.Name.Title(), ev.grid)
}

func describeEvent(ev *instance) string {
	if ev.trigger == domain.TriggerBarrage {
		return fmt.Sprintf("Barrage of %d rockets at %s", ev.planned, ev.grid)
	}
	return ev.profile.Name.MarkerLabel(ev.grid)
}
