// Package notifyqueue defers notifications that exceed their category rate limit
// and drains them in FIFO order on the engine loop.
package notifyqueue

import (
	"log/slog"
	"sync/atomic"
	"time"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/metrics"
	"barrage/internal/notify"
	"barrage/internal/ratelimit"
	"barrage/internal/timers"
)

const (
	// DefaultDrainInterval is the pause between drain ticks.
	DefaultDrainInterval = 5 * time.Second
	// DefaultBatchSize is the maximum number of items sent per drain tick.
	DefaultBatchSize = 3
)

// Deliverer is the asynchronous notification sink.
type Deliverer interface {
	Deliver(channel string, notification domain.Notification, done func(notify.Result, error))
}

// Queued is one deferred notification.
type Queued struct {
	Channel      string
	Notification domain.Notification
	Category     string
	EnqueuedAt   time.Time
}

// Outcome reports what EnqueueOrSend did with a notification.
type Outcome string

const (
	// OutcomeSent means the notification was handed to the sink.
	OutcomeSent Outcome = "sent"
	// OutcomeQueued means the notification waits for rate-limit capacity.
	OutcomeQueued Outcome = "queued"
	// OutcomeDropped means the category has no channel; the notification was only logged.
	OutcomeDropped Outcome = "dropped"
)

// Options configures dispatcher behaviour.
type Options struct {
	DrainInterval time.Duration
	BatchSize     int
	// Routes maps category to channel; categories without a route are logged and dropped.
	Routes  map[string]string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Dispatcher sends notifications through the rate limiter, queueing the overflow.
// Every method except Len must run on the loop goroutine.
type Dispatcher struct {
	loop    *timers.Loop
	limiter *ratelimit.Limiter
	sink    Deliverer
	logger  *slog.Logger
	metrics *metrics.Recorder

	interval time.Duration
	batch    int
	routes   map[string]string

	queue    []Queued
	perCat   map[string]int
	depth    atomic.Int64
	drainer  *timers.Timer
	inflight int
}

// NewDispatcher creates dispatcher bound to loop, limiter and sink.
// Params: loop, limiter, sink and options.
// Returns: dispatcher; call Start to arm the periodic drain.
func NewDispatcher(loop *timers.Loop, limiter *ratelimit.Limiter, sink Deliverer, opts Options) *Dispatcher {
	d := &Dispatcher{
		loop:    loop,
		limiter: limiter,
		sink:    sink,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		perCat:  make(map[string]int),
	}
	d.configure(opts)
	d.metrics.ObserveQueueDepth(d.depth.Load)
	return d
}

func (d *Dispatcher) configure(opts Options) {
	d.interval = opts.DrainInterval
	if d.interval <= 0 {
		d.interval = DefaultDrainInterval
	}
	d.batch = opts.BatchSize
	if d.batch <= 0 {
		d.batch = DefaultBatchSize
	}
	d.routes = make(map[string]string, len(opts.Routes))
	for category, channel := range opts.Routes {
		d.routes[category] = channel
	}
}

// Start arms the repeating drain timer. Calling Start twice re-arms it.
func (d *Dispatcher) Start() {
	if d.drainer != nil {
		d.drainer.Cancel()
	}
	d.drainer = d.loop.Repeat(d.interval, 0, func() { d.Drain() })
}

// Stop cancels the drain timer and flushes the queue for shutdown.
// Params: none.
// Returns: number of queued items that could not be sent and were reported as dropped.
//
// Items whose category still has capacity are sent, keeping per-category order.
// Everything else is logged one by one and counted as dropped.
func (d *Dispatcher) Stop() int {
	if d.drainer != nil {
		d.drainer.Cancel()
		d.drainer = nil
	}
	if len(d.queue) == 0 {
		return 0
	}

	blocked := make(map[string]bool)
	var left []Queued
	for _, item := range d.queue {
		if !blocked[item.Category] && d.limiter.CanSend(item.Category) {
			d.send(item.Channel, item.Notification)
			continue
		}
		blocked[item.Category] = true
		left = append(left, item)
	}
	for _, item := range left {
		if d.logger != nil {
			d.logger.Warn("queued notification dropped at shutdown",
				"category", item.Category,
				"kind", item.Notification.Kind,
				"title", item.Notification.Title,
				"event_id", item.Notification.EventID,
				"queued_for", d.loop.Now().Sub(item.EnqueuedAt).String(),
			)
		}
		d.metrics.Notification(item.Category, string(OutcomeDropped))
	}
	d.queue = nil
	d.perCat = make(map[string]int)
	d.depth.Store(0)
	return len(left)
}

// Reconfigure applies new routing, batching and limits, keeping the queue and rate state.
// Params: options and category limits.
// Returns: none; the drain timer is re-armed when it was running.
func (d *Dispatcher) Reconfigure(opts Options, limits map[string]ratelimit.Limits, fallback ratelimit.Limits) {
	running := d.drainer != nil
	d.configure(opts)
	d.limiter.SetLimits(limits, fallback)
	if running {
		d.Start()
	}
}

// EnqueueOrSend sends notification now when its category has capacity, otherwise queues it.
// Params: notification with Category set.
// Returns: what happened to it.
//
// A category that already has queued items never sends immediately, so items
// leave a category in the order they arrived.
func (d *Dispatcher) EnqueueOrSend(notification domain.Notification) Outcome {
	category := notification.Category
	channel, ok := d.routes[category]
	if !ok || channel == "" {
		if d.logger != nil {
			d.logger.Warn("notification not routed",
				"category", category,
				"kind", notification.Kind,
				"title", notification.Title,
				"event_id", notification.EventID,
			)
		}
		d.metrics.Notification(category, string(OutcomeDropped))
		return OutcomeDropped
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = d.loop.Now()
	}
	if d.perCat[category] == 0 && d.limiter.CanSend(category) {
		d.send(channel, notification)
		return OutcomeSent
	}
	d.queue = append(d.queue, Queued{
		Channel:      channel,
		Notification: notification,
		Category:     category,
		EnqueuedAt:   d.loop.Now(),
	})
	d.perCat[category]++
	d.depth.Store(int64(len(d.queue)))
	d.metrics.Notification(category, string(OutcomeQueued))
	return OutcomeQueued
}

// Drain sends up to one batch of queued items, stopping at the first rate-limited head.
// Params: none.
// Returns: number of items sent.
func (d *Dispatcher) Drain() int {
	sent := 0
	for sent < d.batch && len(d.queue) > 0 {
		head := d.queue[0]
		if !d.limiter.CanSend(head.Category) {
			break
		}
		d.queue[0] = Queued{}
		d.queue = d.queue[1:]
		d.perCat[head.Category]--
		if d.perCat[head.Category] <= 0 {
			delete(d.perCat, head.Category)
		}
		d.send(head.Channel, head.Notification)
		sent++
	}
	if len(d.queue) == 0 {
		d.queue = nil
	}
	d.depth.Store(int64(len(d.queue)))
	return sent
}

// send records the send and hands the notification to the sink.
func (d *Dispatcher) send(channel string, notification domain.Notification) {
	d.limiter.RecordSend(notification.Category)
	d.metrics.Notification(notification.Category, string(OutcomeSent))
	d.inflight++
	d.sink.Deliver(channel, notification, func(result notify.Result, err error) {
		d.loop.Post(func() { d.completed(channel, notification, result, err) })
	})
}

// completed runs on the loop after the sink reports an outcome.
func (d *Dispatcher) completed(channel string, notification domain.Notification, result notify.Result, err error) {
	d.inflight--
	if err != nil {
		d.metrics.Notification(notification.Category, "failed")
		if d.logger != nil {
			d.logger.Warn("notification delivery failed",
				"channel", channel,
				"category", notification.Category,
				"kind", notification.Kind,
				"status", result.StatusCode,
				"error", err.Error(),
			)
		}
		return
	}
	if d.logger != nil {
		d.logger.Debug("notification delivered",
			"channel", channel,
			"category", notification.Category,
			"kind", notification.Kind,
			"status", result.StatusCode,
		)
	}
}

// Pending returns a copy of the queue in send order.
func (d *Dispatcher) Pending() []Queued {
	out := make([]Queued, len(d.queue))
	copy(out, d.queue)
	return out
}

// Len returns queue depth. Safe to call from any goroutine.
func (d *Dispatcher) Len() int {
	return int(d.depth.Load())
}

// InFlight returns deliveries whose outcome has not been observed on the loop yet.
func (d *Dispatcher) InFlight() int {
	return d.inflight
}

// FromConfig derives dispatcher options and limiter limits from notify config.
// Params: notify config snapshot, logger and metrics.
// Returns: options, per-category limits and limits for unknown categories.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger, rec *metrics.Recorder) (Options, map[string]ratelimit.Limits, ratelimit.Limits) {
	routes := make(map[string]string, len(cfg.Category))
	limits := make(map[string]ratelimit.Limits, len(cfg.Category))
	for name, category := range cfg.Category {
		routes[name] = category.Channel
		limits[name] = ratelimit.Limits{
			MaxPerMinute: category.MaxPerMinute,
			Cooldown:     time.Duration(category.CooldownSec * float64(time.Second)),
		}
	}
	opts := Options{
		DrainInterval: time.Duration(cfg.Queue.DrainIntervalSec) * time.Second,
		BatchSize:     cfg.Queue.BatchSize,
		Routes:        routes,
		Logger:        logger,
		Metrics:       rec,
	}
	return opts, limits, ratelimit.Limits{}
}
