package timers

import (
	"context"
	"errors"
	"testing"
	"time"

	"barrage/internal/clock"
)

func newManualLoop() (*Loop, *clock.Manual) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(clk, nil), clk
}

// TestLoopFiresSameDeadlineInScheduleOrder verifies ties are broken by scheduling order.
// Params: testing handle.
// Returns: none.
func TestLoopFiresSameDeadlineInScheduleOrder(t *testing.T) {
	t.Parallel()

	loop, _ := newManualLoop()
	var order []string
	loop.After(5*time.Second, func() { order = append(order, "a") })
	loop.After(5*time.Second, func() { order = append(order, "b") })
	loop.After(time.Second, func() { order = append(order, "early") })

	if fired := loop.Advance(5 * time.Second); fired != 3 {
		t.Fatalf("expected 3 fires, got %d", fired)
	}
	want := []string{"early", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", order, want)
		}
	}
}

// TestLoopRepeatFiresCountTimes verifies bounded repeat stops after count fires.
// Params: testing handle.
// Returns: none.
func TestLoopRepeatFiresCountTimes(t *testing.T) {
	t.Parallel()

	loop, clk := newManualLoop()
	start := clk.Now()
	var fires []time.Duration
	loop.Repeat(12*time.Second, 20, func() { fires = append(fires, clk.Now().Sub(start)) })

	loop.Advance(10 * time.Minute)
	if len(fires) != 20 {
		t.Fatalf("expected 20 fires, got %d", len(fires))
	}
	if fires[0] != 12*time.Second || fires[19] != 240*time.Second {
		t.Fatalf("unexpected fire times first=%s last=%s", fires[0], fires[19])
	}
	if loop.Len() != 0 {
		t.Fatalf("expected empty loop, got %d pending", loop.Len())
	}
}

// TestLoopCancelInsideCallbackStopsRepeat verifies a repeat can cancel itself.
// Params: testing handle.
// Returns: none.
func TestLoopCancelInsideCallbackStopsRepeat(t *testing.T) {
	t.Parallel()

	loop, _ := newManualLoop()
	count := 0
	var timer *Timer
	timer = loop.Repeat(time.Second, 0, func() {
		count++
		if count == 3 {
			timer.Cancel()
		}
	})
	loop.Advance(time.Minute)
	if count != 3 {
		t.Fatalf("expected 3 fires, got %d", count)
	}
	if timer.Active() {
		t.Fatalf("expected timer inactive")
	}
	timer.Cancel()
}

// TestLoopStopCancelsPendingAndRejectsNew verifies teardown semantics.
// Params: testing handle.
// Returns: none.
func TestLoopStopCancelsPendingAndRejectsNew(t *testing.T) {
	t.Parallel()

	loop, _ := newManualLoop()
	fired := false
	pending := loop.After(time.Second, func() { fired = true })
	loop.Stop()

	if pending.Active() {
		t.Fatalf("expected pending timer cancelled")
	}
	late := loop.After(0, func() { fired = true })
	if late.Active() {
		t.Fatalf("expected timer scheduled after stop to be inactive")
	}
	loop.Advance(time.Hour)
	if fired {
		t.Fatalf("callback fired after stop")
	}
	if err := loop.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

// TestLoopPanickingCallbackDoesNotStopLoop verifies a panic is contained to its callback.
// Params: testing handle.
// Returns: none.
func TestLoopPanickingCallbackDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	loop, _ := newManualLoop()
	after := false
	loop.After(time.Second, func() { panic("boom") })
	loop.After(2*time.Second, func() { after = true })
	loop.Advance(3 * time.Second)
	if !after {
		t.Fatalf("expected later callback to fire")
	}
}

// TestLoopRunExecutesCall verifies the real-time driver services Call.
// Params: testing handle.
// Returns: none.
func TestLoopRunExecutesCall(t *testing.T) {
	t.Parallel()

	loop := New(clock.RealClock{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	value := 0
	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	if err := loop.Call(callCtx, func() { value = 42 }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected callback to run, got %d", value)
	}

	fired := make(chan struct{})
	loop.After(20*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("delayed callback did not fire")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

// TestLoopStopReleasesPendingCall verifies a waiter whose callback never ran gets ErrStopped.
// Params: testing handle.
// Returns: none.
func TestLoopStopReleasesPendingCall(t *testing.T) {
	t.Parallel()

	loop, _ := newManualLoop()
	ran := false
	result := make(chan error, 1)
	go func() { result <- loop.Call(context.Background(), func() { ran = true }) }()

	deadline := time.Now().Add(2 * time.Second)
	for loop.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("call was never scheduled")
		}
		time.Sleep(time.Millisecond)
	}
	loop.Stop()
	loop.Stop()

	select {
	case err := <-result:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call still blocked after stop")
	}
	if ran {
		t.Fatalf("callback must not run after stop")
	}
	if err := loop.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped for call on stopped loop, got %v", err)
	}
}
