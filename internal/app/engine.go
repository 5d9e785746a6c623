package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/event"
	"barrage/internal/host"
	"barrage/internal/impact"
	"barrage/internal/intensity"
	"barrage/internal/metrics"
	"barrage/internal/notifyqueue"
	"barrage/internal/ratelimit"
	"barrage/internal/timers"
	"barrage/internal/tracker"
)

// gaugeRefresh is how often the active-event gauge is resampled on the loop.
const gaugeRefresh = time.Second

// pushTimeout bounds how long a host callback waits for the loop.
const pushTimeout = 5 * time.Second

// EngineDeps are the collaborators one engine is built from.
type EngineDeps struct {
	Loop    *timers.Loop
	Host    host.Host
	Sink    notifyqueue.Deliverer
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	// Roll and Rand are optional; tests pin them.
	Roll intensity.Roller
	Rand *rand.Rand
}

// Engine owns every stateful component and serializes access to them on the loop.
// Params: config snapshot and collaborators.
// Returns: operator and host-callback surface for ingest.
type Engine struct {
	loop       *timers.Loop
	state      *host.State
	tracker    *tracker.Tracker
	limiter    *ratelimit.Limiter
	dispatcher *notifyqueue.Dispatcher
	scheduler  *event.Scheduler
	classifier *impact.Classifier
	reporter   *impact.Reporter
	logger     *slog.Logger
	metrics    *metrics.Recorder
	roll       intensity.Roller
	automatic  bool

	active atomic.Int64
	gauge  *timers.Timer
}

// NewEngine builds engine from config.
// Params: config snapshot and collaborators.
// Returns: engine (not yet started) or intensity configuration error.
func NewEngine(cfg config.Config, deps EngineDeps) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	selector, err := intensity.NewSelector(config.Profiles(cfg), deps.Roll)
	if err != nil {
		return nil, fmt.Errorf("intensity profiles: %w", err)
	}

	state := host.NewState(domain.Telemetry{MapSize: cfg.Host.MapSize})
	tracked := tracker.New()
	queueOpts, limits, fallback := notifyqueue.FromConfig(cfg.Notify, logger.With("component", "notifyqueue"), deps.Metrics)
	limiter := ratelimit.New(deps.Loop, limits, fallback)
	dispatcher := notifyqueue.NewDispatcher(deps.Loop, limiter, deps.Sink, queueOpts)

	scheduler := event.New(event.Deps{
		Loop:      deps.Loop,
		Selector:  selector,
		Tracker:   tracked,
		Host:      deps.Host,
		Telemetry: state,
		Notifier:  dispatcher,
		Metrics:   deps.Metrics,
		Logger:    logger.With("component", "scheduler"),
		Rand:      deps.Rand,
	}, event.OptionsFromConfig(cfg))

	impactLogger := logger.With("component", "impact")
	classifier := impact.NewClassifier(tracked, state.Players, deps.Host, impact.OptionsFromConfig(cfg.Impact, cfg.Events.ScreenShake), impactLogger)
	reporter := impact.NewReporter(dispatcher, deps.Host, deps.Loop, state.MapSize, deps.Metrics, impactLogger)

	e := &Engine{
		loop:       deps.Loop,
		state:      state,
		tracker:    tracked,
		limiter:    limiter,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		classifier: classifier,
		reporter:   reporter,
		logger:     logger,
		metrics:    deps.Metrics,
		roll:       deps.Roll,
		automatic:  cfg.Events.Automatic,
	}
	deps.Metrics.ObserveActiveEvents(e.active.Load)
	return e, nil
}

// Start arms the drain timer, the automatic trigger (when enabled) and the gauge sampler.
// Params: context bounding the hop onto the loop.
// Returns: loop error when the loop is stopped.
func (e *Engine) Start(ctx context.Context) error {
	return e.loop.Call(ctx, func() {
		e.dispatcher.Start()
		if e.automatic {
			e.scheduler.StartAutomatic()
		}
		e.gauge = e.loop.Repeat(gaugeRefresh, 0, e.sampleActive)
	})
}

// StartRandom starts an event at a random position.
func (e *Engine) StartRandom(ctx context.Context) (domain.ActiveEvent, error) {
	return e.start(ctx, func() (domain.ActiveEvent, error) { return e.scheduler.StartRandom() })
}

// StartOnPosition starts an event at position.
func (e *Engine) StartOnPosition(ctx context.Context, position domain.Vec3, tier domain.IntensityName) (domain.ActiveEvent, error) {
	return e.start(ctx, func() (domain.ActiveEvent, error) { return e.scheduler.StartOnPosition(position, tier) })
}

// StartOnPlayer starts an event on the player matching query.
func (e *Engine) StartOnPlayer(ctx context.Context, query string, tier domain.IntensityName) (domain.ActiveEvent, error) {
	return e.start(ctx, func() (domain.ActiveEvent, error) { return e.scheduler.StartOnPlayer(query, tier) })
}

// StartBarrage fires a directional barrage.
func (e *Engine) StartBarrage(ctx context.Context, req event.BarrageRequest) (domain.ActiveEvent, error) {
	return e.start(ctx, func() (domain.ActiveEvent, error) { return e.scheduler.StartBarrage(req) })
}

func (e *Engine) start(ctx context.Context, trigger func() (domain.ActiveEvent, error)) (domain.ActiveEvent, error) {
	var (
		ev       domain.ActiveEvent
		startErr error
	)
	if err := e.loop.Call(ctx, func() {
		ev, startErr = trigger()
		e.sampleActive()
	}); err != nil {
		return domain.ActiveEvent{}, err
	}
	return ev, startErr
}

// ActiveEvents returns snapshots of live events.
func (e *Engine) ActiveEvents(ctx context.Context) ([]domain.ActiveEvent, error) {
	var events []domain.ActiveEvent
	if err := e.loop.Call(ctx, func() { events = e.scheduler.Active() }); err != nil {
		return nil, err
	}
	return events, nil
}

// Push processes one host callback.
// Params: validated host event.
// Returns: loop error when the engine is stopped.
func (e *Engine) Push(ev domain.HostEvent) error {
	if ev.Type == domain.HostEventTelemetry {
		e.applyTelemetry(ev)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	return e.loop.Call(ctx, func() { e.handle(ev) })
}

// PushBatch processes host callbacks in order with a single hop onto the loop.
// Params: validated host events; the slice is not retained.
// Returns: loop error when the engine is stopped.
func (e *Engine) PushBatch(events []domain.HostEvent) error {
	pending := false
	for _, ev := range events {
		if ev.Type == domain.HostEventTelemetry {
			e.applyTelemetry(ev)
			continue
		}
		pending = true
	}
	if !pending {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	return e.loop.Call(ctx, func() {
		for _, ev := range events {
			if ev.Type != domain.HostEventTelemetry {
				e.handle(ev)
			}
		}
	})
}

func (e *Engine) applyTelemetry(ev domain.HostEvent) {
	if ev.Telemetry == nil {
		return
	}
	e.state.Apply(*ev.Telemetry, ev.EventTime())
}

// handle runs on the loop.
func (e *Engine) handle(ev domain.HostEvent) {
	switch ev.Type {
	case domain.HostEventDamage:
		if ev.Damage == nil {
			return
		}
		if ev.Damage.Initiator != "" {
			e.tracker.UpdatePosition(ev.Damage.Initiator, ev.Damage.Position)
		}
		if record, ok := e.classifier.Classify(*ev.Damage); ok {
			e.reporter.Report(record)
		}
	case domain.HostEventDestroyed:
		if ev.Destroyed == nil {
			return
		}
		e.scheduler.HandleDestroyed(*ev.Destroyed)
	default:
		e.logger.Warn("host callback ignored", "type", ev.Type)
	}
}

// ApplyConfig swaps policy, tiers, routing and limits atomically on the loop.
// Params: context bounding the hop and the new snapshot.
// Returns: intensity configuration error or loop error; on error nothing changes.
func (e *Engine) ApplyConfig(ctx context.Context, cfg config.Config) error {
	selector, err := intensity.NewSelector(config.Profiles(cfg), e.roll)
	if err != nil {
		return fmt.Errorf("intensity profiles: %w", err)
	}
	queueOpts, limits, fallback := notifyqueue.FromConfig(cfg.Notify, e.logger.With("component", "notifyqueue"), e.metrics)
	return e.loop.Call(ctx, func() {
		e.dispatcher.Reconfigure(queueOpts, limits, fallback)
		e.classifier.SetOptions(impact.OptionsFromConfig(cfg.Impact, cfg.Events.ScreenShake))
		e.scheduler.Reconfigure(event.OptionsFromConfig(cfg), selector)
	})
}

// Shutdown stops the automatic trigger, cancels every event, removes markers and flushes the notification queue.
// Params: context bounding the hop and the host marker cleanup.
// Returns: loop or cleanup error.
func (e *Engine) Shutdown(ctx context.Context) error {
	var shutdownErr error
	if err := e.loop.Call(ctx, func() {
		e.gauge.Cancel()
		shutdownErr = e.scheduler.Shutdown(ctx)
		if dropped := e.dispatcher.Stop(); dropped > 0 {
			e.logger.Warn("notifications dropped at shutdown", "count", dropped)
		}
		e.active.Store(0)
	}); err != nil {
		return err
	}
	return shutdownErr
}

// PendingNotifications returns queued notification count.
func (e *Engine) PendingNotifications() int {
	return e.dispatcher.Len()
}

// Telemetry returns the host telemetry cache.
func (e *Engine) Telemetry() *host.State {
	return e.state
}

func (e *Engine) sampleActive() {
	e.active.Store(int64(e.scheduler.Len()))
}
