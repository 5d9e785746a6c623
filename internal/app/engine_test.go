package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"barrage/internal/clock"
	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/fault"
	"barrage/internal/host"
	"barrage/internal/notify"
	"barrage/internal/timers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engineTestConfig = `[events]
automatic = false
min_players = 2
warning_enabled = false
grace_sec = 1

[intensity.medium]
rocket_count = 2
duration_sec = 2

[[intensity.medium.drop]]
shortname = "stones"
min = 10
max = 10

[notify.channel.ops]
type = "http"
url = "http://127.0.0.1:1/hook"

[notify.category.events]
channel = "ops"
max_per_minute = 100

[notify.category.admin]
channel = "ops"
max_per_minute = 100
`

type captureSink struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (s *captureSink) Deliver(_ string, notification domain.Notification, done func(notify.Result, error)) {
	s.mu.Lock()
	s.items = append(s.items, notification)
	s.mu.Unlock()
	done(notify.Result{StatusCode: 200}, nil)
}

func (s *captureSink) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Title)
	}
	return out
}

func (s *captureSink) byKind(kind domain.NotificationKind) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, item := range s.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

type engineHarness struct {
	clock  *clock.Manual
	loop   *timers.Loop
	sim    *host.Sim
	sink   *captureSink
	engine *Engine
}

func newEngineHarness(t *testing.T, body string) *engineHarness {
	t.Helper()
	return newLoggedEngineHarness(t, body, nil)
}

func newLoggedEngineHarness(t *testing.T, body string, logger *slog.Logger) *engineHarness {
	t.Helper()
	cfg, err := config.Parse([]byte(body))
	require.NoError(t, err)

	clk := clock.NewManual(time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC))
	loop := timers.New(clk, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := &engineHarness{clock: clk, loop: loop, sim: host.NewSim(nil), sink: &captureSink{}}
	h.engine, err = NewEngine(cfg, EngineDeps{
		Loop: loop,
		Host: h.sim,
		Sink: h.sink,
		Roll:   func() int { return 1 },
		Logger: logger,
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Start(context.Background()))
	return h
}

// advance moves the fake clock and lets the loop fire everything that became due.
func (h *engineHarness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	require.NoError(t, h.loop.Call(context.Background(), func() {}))
}

func telemetryEvent(players int) domain.HostEvent {
	sample := domain.Telemetry{PlayerCount: players, FrameRate: 60}
	return domain.HostEvent{DT: 1, Type: domain.HostEventTelemetry, Telemetry: &sample}
}

func TestEngineRunsPositionEventEndToEnd(t *testing.T) {
	h := newEngineHarness(t, engineTestConfig)
	ctx := context.Background()

	ev, err := h.engine.StartOnPosition(ctx, domain.Vec3{X: 100, Z: 100}, domain.IntensityMedium)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, ev.State)
	assert.Equal(t, domain.IntensityMedium, ev.Intensity)
	assert.Equal(t, 2, ev.Planned)

	h.advance(t, time.Second)
	require.Len(t, h.sim.Spawns(), 1)

	require.NoError(t, h.engine.Push(domain.HostEvent{
		DT:        1,
		Type:      domain.HostEventDestroyed,
		Destroyed: &domain.DestroyedEvent{Handle: "sim-1", Position: domain.Vec3{X: 90, Z: 95}},
	}))
	drops := h.sim.Drops()
	require.Len(t, drops, 1)
	assert.Equal(t, "stones", drops[0].Shortname)
	assert.Equal(t, 10, drops[0].Amount)

	h.advance(t, time.Second)
	require.Len(t, h.sim.Spawns(), 2)
	require.NoError(t, h.engine.Push(domain.HostEvent{
		DT:   2,
		Type: domain.HostEventDamage,
		Damage: &domain.DamageEvent{
			Target:       "player-7",
			TargetPrefab: "player",
			TargetName:   "Alice",
			IsPlayer:     true,
			Initiator:    "sim-2",
			Damage:       42,
			Position:     domain.Vec3{X: 101, Z: 99},
		},
	}))
	impacts := h.sink.byKind(domain.KindImpact)
	require.Len(t, impacts, 1)
	assert.Equal(t, config.CategoryAdmin, impacts[0].Category)

	// Last spawn at 2s, then grace, then the record is gone.
	h.advance(t, 2*time.Second)
	events, err := h.engine.ActiveEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Contains(t, h.sink.titles(), "Meteor Shower Incoming")
	assert.Contains(t, h.sink.titles(), "Meteor Shower Ended")
	assert.Empty(t, h.sim.Markers())
}

func TestEngineTelemetryGatesRandomTrigger(t *testing.T) {
	h := newEngineHarness(t, engineTestConfig)
	ctx := context.Background()

	_, err := h.engine.StartRandom(ctx)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Precondition))

	unknown := domain.DestroyedEvent{Handle: "nobody"}
	require.NoError(t, h.engine.PushBatch([]domain.HostEvent{
		telemetryEvent(3),
		{DT: 1, Type: domain.HostEventDestroyed, Destroyed: &unknown},
	}))
	assert.Equal(t, 3, h.engine.Telemetry().PlayerCount())

	ev, err := h.engine.StartRandom(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IntensityMild, ev.Intensity)
}

func TestEngineApplyConfigReplacesPolicy(t *testing.T) {
	h := newEngineHarness(t, engineTestConfig)
	ctx := context.Background()

	_, err := h.engine.StartRandom(ctx)
	require.Error(t, err)

	next, err := config.Parse([]byte(engineTestConfig))
	require.NoError(t, err)
	next.Events.MinPlayers = 0
	require.NoError(t, h.engine.ApplyConfig(ctx, next))

	_, err = h.engine.StartRandom(ctx)
	require.NoError(t, err)
}

func TestEngineShutdownClearsEverything(t *testing.T) {
	h := newEngineHarness(t, engineTestConfig)
	ctx := context.Background()

	_, err := h.engine.StartOnPosition(ctx, domain.Vec3{X: 10, Z: 10}, domain.IntensityMild)
	require.NoError(t, err)
	require.NotEmpty(t, h.sim.Markers())

	require.NoError(t, h.engine.Shutdown(ctx))
	events, err := h.engine.ActiveEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, h.sim.Markers())

	_, err = h.engine.StartRandom(ctx)
	require.Error(t, err)
}

func TestEngineShutdownReportsQueuedNotifications(t *testing.T) {
	body := strings.Replace(engineTestConfig, "[notify.category.events]\nchannel = \"ops\"\nmax_per_minute = 100",
		"[notify.category.events]\nchannel = \"ops\"\nmax_per_minute = 1", 1)
	require.NotEqual(t, engineTestConfig, body)
	var logs syncBuffer
	h := newLoggedEngineHarness(t, body, slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	_, err := h.engine.StartOnPosition(ctx, domain.Vec3{X: 10, Z: 10}, domain.IntensityMild)
	require.NoError(t, err)
	second, err := h.engine.StartOnPosition(ctx, domain.Vec3{X: 900, Z: 900}, domain.IntensityMild)
	require.NoError(t, err)
	require.Len(t, h.sink.byKind(domain.KindEventStarted), 1)
	require.Equal(t, 1, h.engine.PendingNotifications())

	require.NoError(t, h.engine.Shutdown(ctx))
	assert.Equal(t, 0, h.engine.PendingNotifications())
	out := logs.String()
	assert.Contains(t, out, "queued notification dropped at shutdown")
	assert.Contains(t, out, "event_id="+second.ID)
	assert.Contains(t, out, "notifications dropped at shutdown")
}

func TestEnginePushAfterLoopStopReturns(t *testing.T) {
	h := newEngineHarness(t, engineTestConfig)
	h.loop.Stop()

	done := make(chan error, 1)
	go func() {
		done <- h.engine.Push(domain.HostEvent{
			DT:        1,
			Type:      domain.HostEventDestroyed,
			Destroyed: &domain.DestroyedEvent{Handle: "sim-1"},
		})
	}()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, timers.ErrStopped), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("push blocked on a stopped loop")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
