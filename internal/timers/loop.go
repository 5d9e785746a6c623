package timers

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"barrage/internal/clock"
)

// ErrStopped is returned when work is posted to a stopped loop.
var ErrStopped = errors.New("timer loop stopped")

// Loop runs scheduled callbacks one at a time on a single goroutine.
// Params: clock used for deadlines and optional logger for callback panics.
// Returns: delayed/repeating callback facility shared by all engine components.
//
// Callbacks due at the same instant fire in scheduling order; otherwise they
// fire in deadline order.
type Loop struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	queue   timerHeap
	seq     uint64
	stopped bool
	wake    chan struct{}
	halt    chan struct{}
}

// Timer is a handle to one scheduled callback.
type Timer struct {
	loop      *Loop
	at        time.Time
	seq       uint64
	interval  time.Duration
	remaining int
	fn        func()
	cancelled bool
	index     int
}

// New creates loop bound to clock.
// Params: clock and optional logger.
// Returns: idle loop; call Run or Advance to fire callbacks.
func New(clk clock.Clock, logger *slog.Logger) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Loop{
		clock:  clk,
		logger: logger,
		wake:   make(chan struct{}, 1),
		halt:   make(chan struct{}),
	}
}

// Now returns loop clock time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// After schedules fn once after delay d.
// Params: delay (negative treated as zero) and callback.
// Returns: timer handle (already inactive when loop is stopped).
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	t, _ := l.schedule(d, 0, 1, fn)
	return t
}

// Repeat schedules fn every interval, count times (count <= 0 repeats until cancelled).
// Params: interval, repetitions and callback.
// Returns: timer handle; first fire happens after one interval.
func (l *Loop) Repeat(interval time.Duration, count int, fn func()) *Timer {
	if interval <= 0 {
		interval = time.Millisecond
	}
	if count <= 0 {
		count = -1
	}
	t, _ := l.schedule(interval, interval, count, fn)
	return t
}

// Post schedules fn to run on the loop as soon as possible.
func (l *Loop) Post(fn func()) *Timer {
	return l.After(0, fn)
}

// Call runs fn on the loop goroutine and waits for it to finish.
// Params: context bounding the wait and callback.
// Returns: ErrStopped when the loop stops before fn ran, context error, or nil after fn completed.
//
// Call must not be used from inside a loop callback.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	t, err := l.schedule(0, 0, 1, func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.halt:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		t.Cancel()
		return ctx.Err()
	}
}

func (l *Loop) schedule(delay, interval time.Duration, count int, fn func()) (*Timer, error) {
	if delay < 0 {
		delay = 0
	}
	l.mu.Lock()
	if l.stopped || fn == nil {
		l.mu.Unlock()
		if fn == nil {
			return &Timer{loop: l, cancelled: true, index: -1}, errors.New("nil timer callback")
		}
		return &Timer{loop: l, cancelled: true, index: -1}, ErrStopped
	}
	l.seq++
	t := &Timer{
		loop:      l,
		at:        l.clock.Now().Add(delay),
		seq:       l.seq,
		interval:  interval,
		remaining: count,
		fn:        fn,
	}
	heap.Push(&l.queue, t)
	l.mu.Unlock()
	l.notify()
	return t, nil
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Cancel prevents any further fires of the timer. Safe to call repeatedly.
func (t *Timer) Cancel() {
	if t == nil || t.loop == nil {
		return
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	t.cancelled = true
	if t.index >= 0 && t.index < len(l.queue) && l.queue[t.index] == t {
		heap.Remove(&l.queue, t.index)
	}
	t.index = -1
}

// Active reports whether the timer still has pending fires.
func (t *Timer) Active() bool {
	if t == nil || t.loop == nil {
		return false
	}
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	return !t.cancelled && t.index >= 0
}

// Len returns the number of pending timers.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RunDue fires every callback whose deadline is not after the current clock time.
// Params: none.
// Returns: number of callbacks fired.
func (l *Loop) RunDue() int {
	fired := 0
	for {
		fn := l.popDue(l.clock.Now())
		if fn == nil {
			return fired
		}
		l.fire(fn)
		fired++
	}
}

// Advance drives the loop on a settable clock, stepping through every deadline up to now+d.
// Params: duration to advance.
// Returns: number of callbacks fired.
func (l *Loop) Advance(d time.Duration) int {
	setter, ok := l.clock.(interface{ Set(time.Time) })
	if !ok {
		return l.RunDue()
	}
	target := l.clock.Now().Add(d)
	fired := 0
	for {
		next, pending := l.nextDeadline()
		if !pending || next.After(target) {
			break
		}
		setter.Set(next)
		fired += l.RunDue()
	}
	setter.Set(target)
	return fired + l.RunDue()
}

// Run fires callbacks in real time until ctx is done or the loop is stopped.
// Params: context controlling loop lifetime.
// Returns: nil on shutdown.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer stopTimer(timer)
	for {
		l.RunDue()
		if l.isStopped() {
			return nil
		}
		wait := time.Hour
		if next, ok := l.nextDeadline(); ok {
			wait = next.Sub(l.clock.Now())
			if wait < 0 {
				wait = 0
			}
		}
		stopTimer(timer)
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.wake:
		case <-timer.C:
		}
	}
}

// Stop cancels every pending timer, releases blocked Call waiters and rejects new work.
func (l *Loop) Stop() {
	l.mu.Lock()
	for _, t := range l.queue {
		t.cancelled = true
		t.index = -1
	}
	l.queue = nil
	if !l.stopped {
		l.stopped = true
		close(l.halt)
	}
	l.mu.Unlock()
	l.notify()
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) nextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return time.Time{}, false
	}
	return l.queue[0].at, true
}

// popDue removes the earliest due timer and re-arms it when it repeats.
func (l *Loop) popDue(now time.Time) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 || l.queue[0].at.After(now) {
		return nil
	}
	t := heap.Pop(&l.queue).(*Timer)
	fn := t.fn
	if t.remaining > 0 {
		t.remaining--
	}
	if t.remaining != 0 && !t.cancelled {
		l.seq++
		t.seq = l.seq
		t.at = t.at.Add(t.interval)
		heap.Push(&l.queue, t)
	}
	return fn
}

func (l *Loop) fire(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil && l.logger != nil {
			l.logger.Error("timer callback panicked", "error", fmt.Sprint(recovered))
		}
	}()
	fn()
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
