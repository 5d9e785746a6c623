package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "barrage/internal/metrics"

// Recorder exposes engine counters on an OpenTelemetry meter.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	events        metric.Int64Counter
	spawns        metric.Int64Counter
	notifications metric.Int64Counter
	impacts       metric.Int64Counter
	queueDepth    metric.Int64ObservableGauge
	activeEvents  metric.Int64ObservableGauge

	mu        sync.RWMutex
	observers map[string]func() int64
}

// New creates recorder on the global meter provider (no-op unless configured).
// Params: none.
// Returns: recorder or instrument creation error.
func New() (*Recorder, error) {
	return NewWithMeter(otel.Meter(instrumentationName))
}

// NewWithMeter creates recorder on explicit meter.
// Params: meter used for every instrument.
// Returns: recorder or instrument creation error.
func NewWithMeter(m metric.Meter) (*Recorder, error) {
	r := &Recorder{observers: make(map[string]func() int64)}

	var err error
	if r.events, err = m.Int64Counter(
		"barrage.events",
		metric.WithDescription("Event lifecycle transitions by outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating events counter: %w", err)
	}
	if r.spawns, err = m.Int64Counter(
		"barrage.spawns",
		metric.WithDescription("Projectile spawn attempts by result"),
	); err != nil {
		return nil, fmt.Errorf("creating spawns counter: %w", err)
	}
	if r.notifications, err = m.Int64Counter(
		"barrage.notifications",
		metric.WithDescription("Outbound notifications by category and outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating notifications counter: %w", err)
	}
	if r.impacts, err = m.Int64Counter(
		"barrage.impacts",
		metric.WithDescription("Reported impacts by target kind"),
	); err != nil {
		return nil, fmt.Errorf("creating impacts counter: %w", err)
	}
	if r.queueDepth, err = m.Int64ObservableGauge(
		"barrage.notify.queue.size",
		metric.WithDescription("Notifications waiting for rate-limit capacity"),
	); err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	if r.activeEvents, err = m.Int64ObservableGauge(
		"barrage.events.active",
		metric.WithDescription("Events not yet ended"),
	); err != nil {
		return nil, fmt.Errorf("creating active events gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			if fn := r.observers["queue"]; fn != nil {
				o.ObserveInt64(r.queueDepth, fn())
			}
			if fn := r.observers["active"]; fn != nil {
				o.ObserveInt64(r.activeEvents, fn())
			}
			return nil
		},
		r.queueDepth, r.activeEvents,
	)
	if err != nil {
		return nil, fmt.Errorf("registering gauge callback: %w", err)
	}
	return r, nil
}

// ObserveQueueDepth installs the queue depth source read at collection time.
// fn is called from the metrics collector goroutine and must be safe for that.
func (r *Recorder) ObserveQueueDepth(fn func() int64) {
	r.observe("queue", fn)
}

// ObserveActiveEvents installs the active event count source.
func (r *Recorder) ObserveActiveEvents(fn func() int64) {
	r.observe("active", fn)
}

func (r *Recorder) observe(name string, fn func() int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[name] = fn
}

// Event counts one lifecycle outcome (started, ended, skipped, aborted).
func (r *Recorder) Event(outcome, intensity string) {
	if r == nil {
		return
	}
	r.events.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("intensity", intensity),
	))
}

// Spawn counts one spawn attempt.
func (r *Recorder) Spawn(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.spawns.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

// Notification counts one notification outcome (sent, queued, failed, dropped).
func (r *Recorder) Notification(category, outcome string) {
	if r == nil {
		return
	}
	r.notifications.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("outcome", outcome),
	))
}

// Impact counts one reported impact.
func (r *Recorder) Impact(targetKind string) {
	if r == nil {
		return
	}
	r.impacts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("target", targetKind)))
}
