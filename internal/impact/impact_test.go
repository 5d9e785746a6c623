package impact

import (
	"testing"
	"time"

	"barrage/internal/clock"
	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/host"
	"barrage/internal/notifyqueue"
	"barrage/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	items []domain.Notification
}

func (n *captureNotifier) EnqueueOrSend(notification domain.Notification) notifyqueue.Outcome {
	n.items = append(n.items, notification)
	return notifyqueue.OutcomeSent
}

func newClassifier(t *testing.T, opts Options, players []domain.Player) (*Classifier, *tracker.Tracker, *host.Sim) {
	t.Helper()
	tr := tracker.New()
	require.True(t, tr.Register(tracker.Entry{Handle: "rocket-1", EventID: "ev-1", Position: domain.Vec3{X: 100, Z: 100}}))
	sim := host.NewSim(nil)
	c := NewClassifier(tr, func() []domain.Player { return players }, sim, opts, nil)
	return c, tr, sim
}

func defaultOptions() Options {
	return OptionsFromConfig(config.Default().Impact, true)
}

func TestClassifyAttribution(t *testing.T) {
	c, _, _ := newClassifier(t, defaultOptions(), nil)

	tests := []struct {
		name       string
		ev         domain.DamageEvent
		wantReport bool
	}{
		{
			name:       "direct initiator",
			ev:         domain.DamageEvent{Target: "p1", IsPlayer: true, Initiator: "rocket-1", Position: domain.Vec3{X: 5000}},
			wantReport: true,
		},
		{
			name:       "proximity within threshold",
			ev:         domain.DamageEvent{Target: "p1", IsPlayer: true, Position: domain.Vec3{X: 130, Z: 140}},
			wantReport: true,
		},
		{
			name:       "proximity boundary is inclusive",
			ev:         domain.DamageEvent{Target: "p1", IsPlayer: true, Position: domain.Vec3{X: 150, Z: 100}},
			wantReport: true,
		},
		{
			name:       "too far and unknown initiator",
			ev:         domain.DamageEvent{Target: "p1", IsPlayer: true, Initiator: "someone-else", Position: domain.Vec3{X: 151, Z: 100}},
			wantReport: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record, ok := c.Classify(tc.ev)
			require.Equal(t, tc.wantReport, ok)
			if ok {
				assert.Equal(t, domain.Handle("rocket-1"), record.Handle)
				assert.Equal(t, "ev-1", record.EventID)
			}
		})
	}
}

func TestClassifyFilters(t *testing.T) {
	base := domain.DamageEvent{Initiator: "rocket-1", Damage: 40, Position: domain.Vec3{X: 100, Z: 100}}
	with := func(mutate func(*domain.DamageEvent)) domain.DamageEvent {
		ev := base
		mutate(&ev)
		return ev
	}

	tests := []struct {
		name     string
		opts     func(*Options)
		ev       domain.DamageEvent
		wantOK   bool
		wantKind domain.TargetKind
	}{
		{
			name:     "player with zero damage still reported",
			ev:       with(func(e *domain.DamageEvent) { e.Target, e.IsPlayer, e.Damage, e.TargetName = "765", true, 0, "Bob" }),
			wantOK:   true,
			wantKind: domain.TargetPlayer,
		},
		{
			name:     "player hit by filtered weapon still reported",
			ev:       with(func(e *domain.DamageEvent) { e.Target, e.IsPlayer, e.Weapon = "765", true, "grenade.smoke" }),
			wantOK:   true,
			wantKind: domain.TargetPlayer,
		},
		{
			name:     "owned structure reported",
			ev:       with(func(e *domain.DamageEvent) { e.Target, e.TargetPrefab, e.OwnerID = "wall-1", "wall.external.high", 42 }),
			wantOK:   true,
			wantKind: domain.TargetOwnedStructure,
		},
		{
			name: "denylisted npc filtered",
			ev:   with(func(e *domain.DamageEvent) { e.Target, e.TargetPrefab = "npc-1", "scientistnpc_roam" }),
		},
		{
			name: "denylist applies to owned animals too",
			ev:   with(func(e *domain.DamageEvent) { e.Target, e.TargetPrefab, e.OwnerID = "horse-1", "testridablehorse", 7 }),
		},
		{
			name: "low damage structure filtered",
			ev:   with(func(e *domain.DamageEvent) { e.Target, e.TargetPrefab, e.OwnerID, e.Damage = "box-1", "box.wooden", 9, 0.5 }),
		},
		{
			name: "smoke on structure filtered",
			ev:   with(func(e *domain.DamageEvent) { e.Target, e.TargetPrefab, e.OwnerID, e.Weapon = "box-1", "box.wooden", 9, "SMOKE" }),
		},
		{
			name: "unowned entity filtered by default",
			ev:   with(func(e *domain.DamageEvent) { e.Target, e.TargetPrefab = "tree-1", "pine_a" }),
		},
		{
			name:     "unowned entity reported when enabled",
			opts:     func(o *Options) { o.ReportUnowned = true },
			ev:       with(func(e *domain.DamageEvent) { e.Target, e.TargetPrefab = "tree-1", "pine_a" }),
			wantOK:   true,
			wantKind: domain.TargetOther,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := defaultOptions()
			if tc.opts != nil {
				tc.opts(&opts)
			}
			c, _, _ := newClassifier(t, opts, nil)
			record, ok := c.Classify(tc.ev)
			require.Equal(t, tc.wantOK, ok)
			if ok {
				assert.Equal(t, tc.wantKind, record.TargetKind)
			}
		})
	}
}

func TestClassifyLabels(t *testing.T) {
	c, _, _ := newClassifier(t, defaultOptions(), nil)

	record, ok := c.Classify(domain.DamageEvent{Target: "w", TargetPrefab: "wall.stone", OwnerID: 76561198000000001, Initiator: "rocket-1", Damage: 12})
	require.True(t, ok)
	assert.Equal(t, "wall.stone", record.TargetLabel)
	assert.Equal(t, "OwnerID: 76561198000000001", record.OwnerLabel)

	record, ok = c.Classify(domain.DamageEvent{Target: "w", TargetPrefab: "wall.stone", OwnerID: 1, OwnerName: "Alice", Initiator: "rocket-1", Damage: 12})
	require.True(t, ok)
	assert.Equal(t, "Owner: Alice", record.OwnerLabel)
	assert.Equal(t, "wall.stone (Owner: Alice) | Damage: 12.0 | Position: 0, 0, 0", describe(record))
}

func TestClassifyShakes(t *testing.T) {
	players := []domain.Player{
		{ID: "near", Position: domain.Vec3{X: 110, Z: 100}},
		{ID: "edge", Position: domain.Vec3{X: 150, Z: 100}},
		{ID: "far", Position: domain.Vec3{X: 300, Z: 100}},
	}
	c, _, sim := newClassifier(t, defaultOptions(), players)

	_, ok := c.Classify(domain.DamageEvent{Target: "765", IsPlayer: true, Initiator: "rocket-1"})
	require.True(t, ok)
	_, ok = c.Classify(domain.DamageEvent{Target: "wall", TargetPrefab: "wall.stone", OwnerID: 1, Initiator: "rocket-1", Damage: 20, Position: domain.Vec3{X: 100, Z: 100}})
	require.True(t, ok)
	_, ok = c.Classify(domain.DamageEvent{Target: "npc", TargetPrefab: "bear", Initiator: "rocket-1", Damage: 20})
	require.False(t, ok)

	assert.Equal(t, []host.Shake{
		{PlayerID: "765", Intensity: DirectShake},
		{PlayerID: "near", Intensity: NearbyShake},
		{PlayerID: "edge", Intensity: NearbyShake},
	}, sim.Shakes())
}

func TestClassifyWithoutShake(t *testing.T) {
	opts := defaultOptions()
	opts.ScreenShake = false
	c, _, sim := newClassifier(t, opts, nil)
	_, ok := c.Classify(domain.DamageEvent{Target: "765", IsPlayer: true, Initiator: "rocket-1"})
	require.True(t, ok)
	assert.Empty(t, sim.Shakes())
}

func TestReporterReport(t *testing.T) {
	notifier := &captureNotifier{}
	sim := host.NewSim(nil)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reporter := NewReporter(notifier, sim, clk, func() float64 { return 4500 }, nil, nil)

	reporter.Report(domain.ImpactRecord{
		TargetKind:  domain.TargetOwnedStructure,
		TargetLabel: "wall.stone",
		OwnerLabel:  "Owner: Alice",
		Damage:      37.26,
		Weapon:      "rocket_basic",
		Position:    domain.Vec3{X: -2250, Y: 12.3, Z: 2250},
		Handle:      "rocket-1",
		EventID:     "ev-1",
	})

	require.Len(t, notifier.items, 1)
	n := notifier.items[0]
	assert.Equal(t, config.CategoryAdmin, n.Category)
	assert.Equal(t, domain.KindImpact, n.Kind)
	assert.Equal(t, domain.SeverityWarning, n.Severity)
	assert.Equal(t, "Meteor Impact: wall.stone", n.Title)
	assert.Equal(t, "37.3", n.Field("Damage"))
	assert.Equal(t, "A25", n.Field("Grid"))
	assert.Equal(t, "teleportpos -2250.0 12.3 2250.0", n.Field("Teleport"))
	assert.Equal(t, "Owner: Alice", n.Field("Owner"))
	assert.Equal(t, clk.Now(), n.Timestamp)
	assert.Equal(t, []string{host.HookImpact}, sim.HookNames())
}
