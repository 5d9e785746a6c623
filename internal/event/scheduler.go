// Package event runs meteor events as explicit state machines on the engine loop.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/fault"
	"barrage/internal/host"
	"barrage/internal/intensity"
	"barrage/internal/metrics"
	"barrage/internal/notifyqueue"
	"barrage/internal/timers"
	"barrage/internal/tracker"
)

// Skip reasons reported in notifications and errors.
const (
	ReasonNotEnoughPlayers  = "Not enough players online"
	ReasonLowFrameRate      = "Server frame rate too low"
	ReasonDefinitionMissing = "Projectile definition missing"
)

// ErrPlayerNotFound is returned by StartOnPlayer when no online player matches.
var ErrPlayerNotFound = errors.New("player not found")

// SkipError reports an event that never became active or was aborted.
type SkipError struct {
	EventID string
	Reason  string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("event %s skipped: %s", e.EventID, e.Reason)
}

// Notifier accepts outbound notifications.
type Notifier interface {
	EnqueueOrSend(notification domain.Notification) notifyqueue.Outcome
}

// Deps are the collaborators one scheduler drives.
type Deps struct {
	Loop      *timers.Loop
	Selector  *intensity.Selector
	Tracker   *tracker.Tracker
	Host      host.Host
	Telemetry host.Telemetry
	Notifier  Notifier
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Rand      *rand.Rand
}

// Options is the scheduling policy.
type Options struct {
	MapSize   float64
	MapMargin float64

	MinPlayers   int
	FPSCheck     bool
	MinFPS       float64
	ManualBypass bool

	// Warning is the announce countdown; zero goes straight to Active.
	Warning time.Duration
	Grace   time.Duration

	NotifyPlayers bool
	MapMarkers    bool

	DamageMultiplier     float64
	GlobalDropMultiplier float64

	Automatic   bool
	Interval    time.Duration
	RandomTimer bool
	RandomMin   time.Duration
	RandomMax   time.Duration

	BarrageRockets int
	BarrageDelay   time.Duration
	BarrageSpread  float64

	HostTimeout time.Duration
}

// OptionsFromConfig derives scheduling policy from a loaded config.
// Params: config snapshot.
// Returns: scheduler options.
func OptionsFromConfig(cfg config.Config) Options {
	warning := time.Duration(0)
	if cfg.Events.WarningEnabled {
		warning = time.Duration(cfg.Events.WarningSec) * time.Second
	}
	return Options{
		MapSize:              cfg.Host.MapSize,
		MapMargin:            cfg.Host.MapMargin,
		MinPlayers:           cfg.Events.MinPlayers,
		FPSCheck:             cfg.Events.FPSCheck,
		MinFPS:               cfg.Events.MinFPS,
		ManualBypass:         cfg.Events.ManualBypassChecks,
		Warning:              warning,
		Grace:                time.Duration(cfg.Events.GraceSec) * time.Second,
		NotifyPlayers:        cfg.Events.NotifyPlayers,
		MapMarkers:           cfg.Events.MapMarkers,
		DamageMultiplier:     cfg.Damage.Multiplier,
		GlobalDropMultiplier: cfg.Events.GlobalDropMultiplier,
		Automatic:            cfg.Events.Automatic,
		Interval:             time.Duration(cfg.Events.IntervalMin) * time.Minute,
		RandomTimer:          cfg.Events.UseRandomTimer,
		RandomMin:            time.Duration(cfg.Events.RandomMin) * time.Minute,
		RandomMax:            time.Duration(cfg.Events.RandomMax) * time.Minute,
		BarrageRockets:       cfg.Barrage.Rockets,
		BarrageDelay:         time.Duration(cfg.Barrage.DelaySec * float64(time.Second)),
		BarrageSpread:        cfg.Barrage.SpreadDeg,
		HostTimeout:          time.Duration(cfg.Host.RequestTimeoutMS) * time.Millisecond,
	}
}

// BarrageRequest aims a directional barrage.
// Player, when set, replaces Origin with that player's position.
type BarrageRequest struct {
	Origin    domain.Vec3
	Direction domain.Vec3
	Player    string
}

// Scheduler owns every live event. All methods must run on the loop goroutine
// (use Loop.Call from other goroutines).
type Scheduler struct {
	deps Deps
	opts Options
	rng  *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	seq       uint64
	events    map[string]*instance
	automatic *timers.Timer
	closed    bool
}

// instance is the mutable record of one live event.
type instance struct {
	id        string
	trigger   domain.TriggerKind
	state     domain.EventState
	profile   domain.Profile
	origin    domain.Vec3
	grid      string
	direction domain.Vec3
	planned   int
	spawned   int
	failed    int
	interval  time.Duration
	length    time.Duration
	started   time.Time
	plannedAt time.Time

	announce *timers.Timer
	spawner  *timers.Timer
	drain    *timers.Timer
	cleanup  *timers.Timer
}

// New creates scheduler.
// Params: collaborators and policy.
// Returns: idle scheduler; call StartAutomatic to arm the periodic trigger.
func New(deps Deps, opts Options) *Scheduler {
	rng := deps.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		deps:   deps,
		opts:   opts,
		rng:    rng,
		ctx:    ctx,
		cancel: cancel,
		events: make(map[string]*instance),
	}
	return s
}

// StartRandom starts an event at a random map position with a weighted-random tier.
// Returns: event snapshot, or *SkipError (fault.Precondition) when checks fail.
func (s *Scheduler) StartRandom() (domain.ActiveEvent, error) {
	return s.startShower(domain.TriggerRandom, s.randomOrigin(), "")
}

// StartOnPosition starts an event at an explicit position.
// Params: world position and tier (empty tier rolls one).
// Returns: event snapshot or skip error.
func (s *Scheduler) StartOnPosition(position domain.Vec3, tier domain.IntensityName) (domain.ActiveEvent, error) {
	return s.startShower(domain.TriggerPosition, position, tier)
}

// StartOnPlayer starts an event centred on a player found by name fragment.
// Params: name fragment or id and tier.
// Returns: event snapshot, ErrPlayerNotFound, or skip error.
func (s *Scheduler) StartOnPlayer(query string, tier domain.IntensityName) (domain.ActiveEvent, error) {
	player, ok := s.deps.Telemetry.FindPlayer(query)
	if !ok {
		return domain.ActiveEvent{}, fault.Mark(fault.Precondition, fmt.Errorf("%w: %q", ErrPlayerNotFound, query))
	}
	return s.startShower(domain.TriggerPlayer, player.Position, tier)
}

// StartBarrage fires a directional barrage.
// Params: origin or player plus direction.
// Returns: event snapshot, ErrPlayerNotFound, or skip error.
func (s *Scheduler) StartBarrage(req BarrageRequest) (domain.ActiveEvent, error) {
	origin := req.Origin
	if req.Player != "" {
		player, ok := s.deps.Telemetry.FindPlayer(req.Player)
		if !ok {
			return domain.ActiveEvent{}, fault.Mark(fault.Precondition, fmt.Errorf("%w: %q", ErrPlayerNotFound, req.Player))
		}
		origin = player.Position
	}
	direction := req.Direction
	if direction.Len() == 0 {
		direction = fallDirection
	}
	ev := s.newInstance(domain.TriggerBarrage, origin)
	ev.direction = direction
	ev.planned = s.opts.BarrageRockets
	ev.interval = s.opts.BarrageDelay
	ev.length = time.Duration(ev.planned) * ev.interval
	return s.begin(ev)
}

func (s *Scheduler) startShower(trigger domain.TriggerKind, origin domain.Vec3, tier domain.IntensityName) (domain.ActiveEvent, error) {
	ev := s.newInstance(trigger, origin)
	ev.profile = s.deps.Selector.Select(trigger, tier)
	ev.planned = ev.profile.RocketCount
	ev.interval = ev.profile.SpawnInterval()
	ev.length = ev.profile.Duration
	return s.begin(ev)
}

func (s *Scheduler) newInstance(trigger domain.TriggerKind, origin domain.Vec3) *instance {
	s.seq++
	now := s.deps.Loop.Now()
	return &instance{
		id:      now.Format("20060102-150405") + "-" + strconv.FormatUint(s.seq, 10),
		trigger: trigger,
		state:   domain.StatePrecondition,
		origin:  origin,
		grid:    domain.GridReference(origin, s.mapSize()),
	}
}

// begin evaluates preconditions and moves the event to Announce or Active.
func (s *Scheduler) begin(ev *instance) (domain.ActiveEvent, error) {
	if s.closed {
		return ev.snapshot(), fault.Mark(fault.Precondition, errors.New("scheduler is shut down"))
	}
	if reason, ok := s.checkPreconditions(ev.trigger); !ok {
		s.transition(ev, domain.StateSkipped)
		s.reportSkip(ev, reason, domain.SeverityInfo)
		return ev.snapshot(), fault.Mark(fault.Precondition, &SkipError{EventID: ev.id, Reason: reason})
	}

	s.events[ev.id] = ev
	if s.opts.Warning > 0 && ev.trigger != domain.TriggerBarrage {
		s.transition(ev, domain.StateAnnounce)
		s.logger(ev).Info("meteor event announced", "warning", s.opts.Warning.String())
		if s.opts.NotifyPlayers {
			s.broadcast(fmt.Sprintf("Meteor shower incoming in %d seconds!", int(s.opts.Warning.Seconds())))
		}
		id := ev.id
		ev.announce = s.deps.Loop.After(s.opts.Warning, func() { s.activate(id) })
		return ev.snapshot(), nil
	}
	s.enterActive(ev)
	return ev.snapshot(), nil
}

func (s *Scheduler) checkPreconditions(trigger domain.TriggerKind) (string, bool) {
	if trigger.Manual() && s.opts.ManualBypass {
		return "", true
	}
	if s.deps.Telemetry.PlayerCount() < s.opts.MinPlayers {
		return ReasonNotEnoughPlayers, false
	}
	if s.opts.FPSCheck && s.deps.Telemetry.FrameRate() < s.opts.MinFPS {
		return ReasonLowFrameRate, false
	}
	return "", true
}

// activate fires when the warning countdown ends.
func (s *Scheduler) activate(id string) {
	ev, ok := s.events[id]
	if !ok || ev.state != domain.StateAnnounce {
		return
	}
	s.enterActive(ev)
}

func (s *Scheduler) enterActive(ev *instance) {
	s.transition(ev, domain.StateActive)
	ev.started = s.deps.Loop.Now()
	ev.plannedAt = ev.started.Add(ev.length + s.opts.Grace)

	s.logger(ev).Info("meteor event started",
		"trigger", ev.trigger,
		"origin_x", int(ev.origin.X),
		"origin_z", int(ev.origin.Z),
		"rockets", ev.planned,
		"duration", ev.length.String(),
		"radius", ev.profile.Radius,
		"teleport", domain.TeleportHint(ev.origin),
	)
	s.deps.Metrics.Event("started", string(ev.profile.Name))
	if s.opts.MapMarkers && ev.trigger != domain.TriggerBarrage {
		s.addMarkers(ev)
	}
	if s.opts.NotifyPlayers && ev.trigger != domain.TriggerBarrage {
		s.broadcast(startBroadcast(ev))
	}
	s.publishHook(host.HookEventStarted, ev)
	s.notify(s.startedNotification(ev))

	id := ev.id
	ev.cleanup = s.deps.Loop.After(ev.length+s.opts.Grace, func() { s.cleanup(id) })
	if ev.planned <= 0 {
		s.enterDraining(ev)
		return
	}
	ev.spawner = s.deps.Loop.Repeat(ev.interval, ev.planned, func() { s.spawnTick(id) })
}

// spawnTick performs one scheduled spawn; stale ticks are no-ops.
func (s *Scheduler) spawnTick(id string) {
	ev, ok := s.events[id]
	if !ok || ev.state != domain.StateActive {
		return
	}
	if ev.trigger == domain.TriggerBarrage {
		s.spawnBarrage(ev)
	} else {
		s.spawnShower(ev)
	}
	if ev.state == domain.StateActive && ev.spawned+ev.failed >= ev.planned {
		s.enterDraining(ev)
	}
}

func (s *Scheduler) spawnShower(ev *instance) {
	plan := planShowerSpawn(s.rng, ev.origin, ev.profile.Radius)
	variant := host.VariantBasic
	if incendiary(s.rng, ev.profile.FireChance) {
		variant = host.VariantIncendiary
	}
	req := host.SpawnRequest{
		Kind:        host.ProjectileKind,
		Variant:     variant,
		Position:    plan.launch,
		Velocity:    plan.velocity,
		DamageScale: s.opts.DamageMultiplier * ev.profile.DamageMultiplier,
		EventID:     ev.id,
	}
	handle, err := s.spawn(ev, req)
	if err != nil {
		return
	}
	entry := tracker.Entry{Handle: handle, EventID: ev.id, Position: plan.landing}
	if ev.profile.DropsEnabled && len(ev.profile.Drops) > 0 {
		entry.Reward = &tracker.Reward{
			Drops:      ev.profile.Drops,
			Multiplier: s.opts.GlobalDropMultiplier * ev.profile.DropMultiplier,
		}
	}
	s.deps.Tracker.Register(entry)
}

func (s *Scheduler) spawnBarrage(ev *instance) {
	plan := planBarrageSpawn(s.rng, ev.origin, ev.direction, s.opts.BarrageSpread)
	req := host.SpawnRequest{
		Kind:        host.ProjectileKind,
		Variant:     host.VariantBasic,
		Position:    plan.launch,
		Velocity:    plan.velocity,
		DamageScale: s.opts.DamageMultiplier,
		EventID:     ev.id,
	}
	handle, err := s.spawn(ev, req)
	if err != nil {
		return
	}
	s.deps.Tracker.Register(tracker.Entry{Handle: handle, EventID: ev.id, Position: plan.landing})
}

// spawn asks the host for one projectile, falling back from incendiary to basic.
// A missing basic definition aborts the whole event.
func (s *Scheduler) spawn(ev *instance, req host.SpawnRequest) (domain.Handle, error) {
	handle, err := s.hostSpawn(req)
	if err != nil && req.Variant == host.VariantIncendiary && errors.Is(err, host.ErrDefinitionMissing) {
		s.logger(ev).Warn("incendiary projectile unavailable, using basic", "error", err.Error())
		req.Variant = host.VariantBasic
		handle, err = s.hostSpawn(req)
	}
	if err == nil {
		ev.spawned++
		s.deps.Metrics.Spawn(true)
		return handle, nil
	}

	ev.failed++
	s.deps.Metrics.Spawn(false)
	err = fault.Mark(fault.Resource, err)
	if errors.Is(err, host.ErrDefinitionMissing) {
		s.logger(ev).Error("projectile definition missing, aborting event", "error", err.Error())
		s.abort(ev, ReasonDefinitionMissing)
		return "", err
	}
	s.logger(ev).Warn("spawn failed", "variant", req.Variant, "spawned", ev.spawned, "failed", ev.failed, "error", err.Error())
	return "", err
}

func (s *Scheduler) hostSpawn(req host.SpawnRequest) (domain.Handle, error) {
	ctx, cancel := s.hostContext()
	defer cancel()
	return s.deps.Host.Spawn(ctx, req)
}

func (s *Scheduler) enterDraining(ev *instance) {
	ev.spawner.Cancel()
	s.transition(ev, domain.StateDraining)
	id := ev.id
	ev.drain = s.deps.Loop.After(s.opts.Grace, func() { s.end(id) })
}

// end completes a drained event and releases its record.
func (s *Scheduler) end(id string) {
	ev, ok := s.events[id]
	if !ok || ev.state != domain.StateDraining {
		return
	}
	s.transition(ev, domain.StateEnded)
	s.logger(ev).Info("meteor event ended", "spawned", ev.spawned, "failed", ev.failed, "teleport", domain.TeleportHint(ev.origin))
	s.deps.Metrics.Event("ended", string(ev.profile.Name))
	s.publishHook(host.HookEventEnded, ev)
	s.notify(s.endedNotification(ev))
	delete(s.events, id)
}

// abort moves an active or announced event to Skipped with a critical report.
func (s *Scheduler) abort(ev *instance, reason string) {
	ev.announce.Cancel()
	ev.spawner.Cancel()
	ev.cleanup.Cancel()
	s.transition(ev, domain.StateSkipped)
	s.reportSkip(ev, reason, domain.SeverityCritical)
	delete(s.events, ev.id)
	s.cleanup(ev.id)
}

// cleanup removes markers and pending rewards; it runs even after the record is gone.
func (s *Scheduler) cleanup(id string) {
	if s.opts.MapMarkers {
		ctx, cancel := s.hostContext()
		err := s.deps.Host.RemoveMarkers(ctx, id)
		cancel()
		if err != nil {
			s.deps.Logger.Warn("remove markers failed", "event_id", id, "error", err.Error())
		}
	}
	if cleared := s.deps.Tracker.ClearRewards(id); cleared > 0 {
		s.deps.Logger.Debug("pending rewards cleared", "event_id", id, "count", cleared)
	}
}

// HandleDestroyed releases a destroyed projectile and pays its reward.
// Params: destroyed callback.
// Returns: true when the handle belonged to an event.
func (s *Scheduler) HandleDestroyed(destroyed domain.DestroyedEvent) bool {
	entry, ok := s.deps.Tracker.Unregister(destroyed.Handle)
	if !ok {
		return false
	}
	if entry.Reward == nil {
		return true
	}
	position := destroyed.Position
	if position.Len() == 0 {
		position = entry.Position
	}
	for _, drop := range entry.Reward.Drops {
		amount := dropAmount(s.rng, drop, entry.Reward.Multiplier)
		if amount <= 0 {
			continue
		}
		ctx, cancel := s.hostContext()
		err := s.deps.Host.DropItem(ctx, drop.Shortname, amount, position)
		cancel()
		if err != nil {
			s.deps.Logger.Warn("item drop failed", "event_id", entry.EventID, "item", drop.Shortname, "amount", amount, "error", err.Error())
		}
	}
	return true
}

// Active returns snapshots of live events ordered by id.
func (s *Scheduler) Active() []domain.ActiveEvent {
	out := make([]domain.ActiveEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns snapshot of one live event.
func (s *Scheduler) Get(id string) (domain.ActiveEvent, bool) {
	ev, ok := s.events[id]
	if !ok {
		return domain.ActiveEvent{}, false
	}
	return ev.snapshot(), true
}

// Len returns live event count.
func (s *Scheduler) Len() int {
	return len(s.events)
}

// Reconfigure replaces policy and tiers, then re-arms the automatic trigger.
// Params: new options and selector (nil keeps the current one).
// Returns: none; live events keep the profile they started with.
func (s *Scheduler) Reconfigure(opts Options, selector *intensity.Selector) {
	s.opts = opts
	if selector != nil {
		s.deps.Selector = selector
	}
	if s.automatic != nil {
		s.StopAutomatic()
	}
	if opts.Automatic {
		s.StartAutomatic()
	}
}

// Shutdown cancels every timer, removes all markers and forgets tracked projectiles.
// Params: context bounding the host marker cleanup.
// Returns: marker cleanup error.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.StopAutomatic()
	for id, ev := range s.events {
		ev.announce.Cancel()
		ev.spawner.Cancel()
		ev.drain.Cancel()
		ev.cleanup.Cancel()
		delete(s.events, id)
	}
	s.deps.Tracker.Reset()
	err := s.deps.Host.RemoveAllMarkers(ctx)
	s.cancel()
	if err != nil {
		return fmt.Errorf("remove markers: %w", err)
	}
	return nil
}

func (s *Scheduler) transition(ev *instance, to domain.EventState) {
	if !CanTransition(ev.state, to) {
		// The table is closed over every code path above; reaching this is a programming error.
		s.logger(ev).Error("invalid event transition", "error", (&InvalidTransitionError{EventID: ev.id, From: ev.state, To: to}).Error())
		return
	}
	s.logger(ev).Debug("event transition", "from", ev.state, "to", to)
	ev.state = to
}

func (s *Scheduler) mapSize() float64 {
	if s.deps.Telemetry != nil {
		if size := s.deps.Telemetry.MapSize(); size > 0 {
			return size
		}
	}
	return s.opts.MapSize
}

func (s *Scheduler) randomOrigin() domain.Vec3 {
	return randomOrigin(s.rng, s.mapSize(), s.opts.MapMargin)
}

func (s *Scheduler) hostContext() (context.Context, context.CancelFunc) {
	timeout := s.opts.HostTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(s.ctx, timeout)
}

func (s *Scheduler) logger(ev *instance) *slog.Logger {
	return s.deps.Logger.With("event_id", ev.id, "intensity", ev.profile.Name, "grid", ev.grid)
}

func (ev *instance) snapshot() domain.ActiveEvent {
	return domain.ActiveEvent{
		ID:           ev.id,
		Trigger:      ev.trigger,
		State:        ev.state,
		Intensity:    ev.profile.Name,
		Origin:       ev.origin,
		Grid:         ev.grid,
		Planned:      ev.planned,
		Spawned:      ev.spawned,
		Failed:       ev.failed,
		StartedAt:    ev.started,
		PlannedEndAt: ev.plannedAt,
	}
}
