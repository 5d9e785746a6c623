package notifyqueue

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"barrage/internal/clock"
	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/notify"
	"barrage/internal/ratelimit"
	"barrage/internal/timers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	channel      string
	notification domain.Notification
	at           time.Time
}

type fakeSink struct {
	clk       clock.Clock
	failTitle string
	sent      []delivery
}

func (s *fakeSink) Deliver(channel string, notification domain.Notification, done func(notify.Result, error)) {
	s.sent = append(s.sent, delivery{channel: channel, notification: notification, at: s.clk.Now()})
	if notification.Title == s.failTitle {
		done(notify.Result{StatusCode: 500}, errors.New("boom"))
		return
	}
	done(notify.Result{StatusCode: 204}, nil)
}

func (s *fakeSink) titles() []string {
	out := make([]string, 0, len(s.sent))
	for _, d := range s.sent {
		out = append(out, d.notification.Title)
	}
	return out
}

type harness struct {
	clk        *clock.Manual
	loop       *timers.Loop
	sink       *fakeSink
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, limits map[string]ratelimit.Limits) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	loop := timers.New(clk, nil)
	sink := &fakeSink{clk: clk}
	limiter := ratelimit.New(clk, limits, ratelimit.Limits{})
	d := NewDispatcher(loop, limiter, sink, Options{
		Routes: map[string]string{
			config.CategoryAdmin:  "ops",
			config.CategoryEvents: "public",
			"silent":              "",
		},
	})
	d.Start()
	t.Cleanup(loop.Stop)
	return &harness{clk: clk, loop: loop, sink: sink, dispatcher: d}
}

func note(category, title string) domain.Notification {
	return domain.Notification{Category: category, Kind: domain.KindImpact, Title: title}
}

func TestEnqueueOrSendSendsImmediatelyWithCapacity(t *testing.T) {
	h := newHarness(t, nil)

	got := h.dispatcher.EnqueueOrSend(note(config.CategoryEvents, "started"))
	assert.Equal(t, OutcomeSent, got)
	require.Len(t, h.sink.sent, 1)
	assert.Equal(t, "public", h.sink.sent[0].channel)
	assert.False(t, h.sink.sent[0].notification.Timestamp.IsZero(), "timestamp is stamped")
	assert.Equal(t, 0, h.dispatcher.Len())

	h.loop.RunDue()
	assert.Equal(t, 0, h.dispatcher.InFlight())
}

func TestUnroutedCategoryIsDropped(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, OutcomeDropped, h.dispatcher.EnqueueOrSend(note("silent", "x")))
	assert.Equal(t, OutcomeDropped, h.dispatcher.EnqueueOrSend(note("unknown", "y")))
	assert.Empty(t, h.sink.sent)
	assert.Equal(t, 0, h.dispatcher.Len())
}

func TestDrainPreservesFIFOWithinCategory(t *testing.T) {
	h := newHarness(t, map[string]ratelimit.Limits{
		config.CategoryAdmin: {Cooldown: 7 * time.Second},
	})

	assert.Equal(t, OutcomeSent, h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "first")))
	for _, title := range []string{"A", "B", "C"} {
		assert.Equal(t, OutcomeQueued, h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, title)))
	}
	require.Equal(t, 3, h.dispatcher.Len())

	h.loop.Advance(60 * time.Second)

	assert.Equal(t, []string{"first", "A", "B", "C"}, h.sink.titles())
	for i := 1; i < len(h.sink.sent); i++ {
		gap := h.sink.sent[i].at.Sub(h.sink.sent[i-1].at)
		assert.GreaterOrEqual(t, gap, 7*time.Second, "cooldown between %d and %d", i-1, i)
	}
	assert.Equal(t, 0, h.dispatcher.Len())
}

func TestCategoryWithBacklogDoesNotSkipAhead(t *testing.T) {
	h := newHarness(t, map[string]ratelimit.Limits{
		config.CategoryAdmin: {Cooldown: 3 * time.Second},
	})

	h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "first"))
	h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "second"))
	h.clk.Advance(4 * time.Second)

	// Capacity is back, but "second" is still waiting for the next drain tick.
	assert.Equal(t, OutcomeQueued, h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "third")))
	assert.Equal(t, []string{"first"}, h.sink.titles())

	h.loop.Advance(10 * time.Second)
	assert.Equal(t, []string{"first", "second", "third"}, h.sink.titles())
}

func TestDrainStopsAtRateLimitedHead(t *testing.T) {
	h := newHarness(t, map[string]ratelimit.Limits{
		config.CategoryAdmin:  {MaxPerMinute: 1},
		config.CategoryEvents: {Cooldown: time.Second},
	})

	h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "admin-1"))
	h.dispatcher.EnqueueOrSend(note(config.CategoryEvents, "events-1"))
	h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "admin-2"))
	h.dispatcher.EnqueueOrSend(note(config.CategoryEvents, "events-2"))
	require.Equal(t, []string{"admin-1", "events-1"}, h.sink.titles())

	h.loop.Advance(30 * time.Second)
	assert.Equal(t, []string{"admin-1", "events-1"}, h.sink.titles(), "blocked head holds the queue")

	h.loop.Advance(35 * time.Second)
	assert.Equal(t, []string{"admin-1", "events-1", "admin-2", "events-2"}, h.sink.titles())
}

func TestAdminBurstDrainsWithoutLossOrDuplicates(t *testing.T) {
	h := newHarness(t, map[string]ratelimit.Limits{
		config.CategoryAdmin: {MaxPerMinute: 20},
	})

	for i := 0; i < 25; i++ {
		h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, fmt.Sprintf("impact-%02d", i)))
	}
	assert.Len(t, h.sink.sent, 20)
	assert.Equal(t, 5, h.dispatcher.Len())

	h.loop.Advance(2 * time.Minute)

	require.Len(t, h.sink.sent, 25)
	seen := make(map[string]bool)
	for i, d := range h.sink.sent {
		want := fmt.Sprintf("impact-%02d", i)
		assert.Equal(t, want, d.notification.Title)
		assert.False(t, seen[want], "duplicate %s", want)
		seen[want] = true
	}
	// The window resets only once it is more than a minute old, then batches of three go out.
	start := h.sink.sent[0].at
	assert.Equal(t, 65*time.Second, h.sink.sent[20].at.Sub(start))
	assert.Equal(t, 65*time.Second, h.sink.sent[22].at.Sub(start))
	assert.Equal(t, 70*time.Second, h.sink.sent[23].at.Sub(start))
}

func TestFailedDeliveryIsNotRequeued(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.failTitle = "broken"

	assert.Equal(t, OutcomeSent, h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "broken")))
	assert.Equal(t, 1, h.dispatcher.InFlight())
	h.loop.RunDue()
	assert.Equal(t, 0, h.dispatcher.InFlight())

	h.loop.Advance(time.Minute)
	assert.Len(t, h.sink.sent, 1)
	assert.Equal(t, 0, h.dispatcher.Len())
}

func TestReconfigureKeepsQueue(t *testing.T) {
	h := newHarness(t, map[string]ratelimit.Limits{
		config.CategoryAdmin: {MaxPerMinute: 1},
	})
	h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "a"))
	h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "b"))
	require.Equal(t, 1, h.dispatcher.Len())

	h.dispatcher.Reconfigure(Options{
		DrainInterval: time.Second,
		BatchSize:     1,
		Routes:        map[string]string{config.CategoryAdmin: "ops"},
	}, nil, ratelimit.Limits{})

	h.loop.Advance(time.Second)
	assert.Equal(t, []string{"a", "b"}, h.sink.titles())
	assert.Empty(t, h.dispatcher.Pending())
}

func TestFromConfig(t *testing.T) {
	opts, limits, fallback := FromConfig(config.NotifyConfig{
		Queue: config.NotifyQueue{DrainIntervalSec: 5, BatchSize: 3},
		Category: map[string]config.CategoryConfig{
			config.CategoryAdmin: {Channel: "ops", MaxPerMinute: 20, CooldownSec: 1.5},
		},
	}, nil, nil)

	assert.Equal(t, 5*time.Second, opts.DrainInterval)
	assert.Equal(t, 3, opts.BatchSize)
	assert.Equal(t, "ops", opts.Routes[config.CategoryAdmin])
	assert.Equal(t, ratelimit.Limits{MaxPerMinute: 20, Cooldown: 1500 * time.Millisecond}, limits[config.CategoryAdmin])
	assert.Equal(t, ratelimit.Limits{}, fallback)
}

func TestStopFlushesSendableAndReportsTheRest(t *testing.T) {
	h := newHarness(t, map[string]ratelimit.Limits{
		config.CategoryAdmin:  {Cooldown: time.Minute},
		config.CategoryEvents: {Cooldown: 5 * time.Second},
	})
	var logs bytes.Buffer
	h.dispatcher.logger = slog.New(slog.NewTextHandler(&logs, nil))

	h.dispatcher.EnqueueOrSend(note(config.CategoryAdmin, "admin-1"))
	h.dispatcher.EnqueueOrSend(note(config.CategoryEvents, "events-1"))
	waiting := note(config.CategoryAdmin, "admin-2")
	waiting.EventID = "ev-7"
	assert.Equal(t, OutcomeQueued, h.dispatcher.EnqueueOrSend(waiting))
	assert.Equal(t, OutcomeQueued, h.dispatcher.EnqueueOrSend(note(config.CategoryEvents, "events-2")))
	require.Equal(t, 2, h.dispatcher.Len())

	h.clk.Advance(6 * time.Second)
	dropped := h.dispatcher.Stop()

	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"admin-1", "events-1", "events-2"}, h.sink.titles())
	assert.Equal(t, 0, h.dispatcher.Len())
	assert.Empty(t, h.dispatcher.Pending())
	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "queued notification dropped at shutdown"))
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "title=admin-2")
	assert.Contains(t, out, "event_id=ev-7")
	assert.Contains(t, out, "category="+config.CategoryAdmin)

	assert.Equal(t, 0, h.dispatcher.Stop(), "second stop has nothing left")
}

func TestUnroutedCategoryIsLoggedAsWarning(t *testing.T) {
	h := newHarness(t, nil)
	var logs bytes.Buffer
	h.dispatcher.logger = slog.New(slog.NewTextHandler(&logs, nil))

	h.dispatcher.EnqueueOrSend(note("unknown", "lost"))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "notification not routed")
}
