package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"barrage/internal/clock"
	"barrage/internal/config"

	"github.com/nats-io/nats.go"
)

// settlement is how one host callback message leaves the consumer.
type settlement int

const (
	settleAck settlement = iota
	settleRetry
	settleTerm
)

// NATSSubscriber consumes host callbacks from a JetStream work queue and forwards them to the engine.
// Params: NATS connection, ingest config, host sink and clock.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	subs      []*nats.Subscription
	sink      HostSink
	clock     clock.Clock
	maxAge    time.Duration
	nackDelay time.Duration
	logger    *slog.Logger
}

// NewNATSSubscriber creates the callback stream if needed and starts cfg.Workers queue consumers.
// Params: shared connection, ingest NATS config, sink, clock and optional logger.
// Returns: started subscriber or initialization error. The connection stays owned by the caller.
func NewNATSSubscriber(nc *nats.Conn, cfg config.NATSIngestConfig, sink HostSink, clk clock.Clock, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}
	if err := ensureIngestStream(js, cfg); err != nil {
		return nil, err
	}

	subscriber := &NATSSubscriber{
		sink:      sink,
		clock:     clk,
		maxAge:    time.Duration(cfg.MaxAgeSec) * time.Second,
		nackDelay: time.Duration(cfg.NackDelayMS) * time.Millisecond,
		logger:    logger,
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	for i := 0; i < max(cfg.Workers, 1); i++ {
		sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, subscriber.receive, subOpts...)
		if err != nil {
			_ = subscriber.Close()
			return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
		}
		subscriber.subs = append(subscriber.subs, sub)
	}
	return subscriber, nil
}

func (s *NATSSubscriber) receive(message *nats.Msg) {
	s.settle(message, s.process(message))
}

// process decodes and pushes one message.
// Params: JetStream message with a single callback or a batch.
// Returns: how the message should be settled.
func (s *NATSSubscriber) process(message *nats.Msg) settlement {
	if age, ok := s.age(message); ok && s.maxAge > 0 && age > s.maxAge {
		// Rockets referenced by old callbacks have already expired from tracking.
		s.logger.Warn("nats ingest dropped stale callback", "subject", message.Subject, "age", age.String())
		return settleAck
	}

	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	events, err := decodeHostPayloadInto(message.Data, scratch)
	if err != nil {
		s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", err.Error())
		return settleTerm
	}
	if err := pushHostEvents(s.sink, events); err != nil {
		s.logger.Error("nats ingest push failed", "subject", message.Subject, "events", len(events), "error", err.Error())
		return settleRetry
	}
	return settleAck
}

func (s *NATSSubscriber) age(message *nats.Msg) (time.Duration, bool) {
	meta, err := message.Metadata()
	if err != nil || s.clock == nil {
		return 0, false
	}
	return s.clock.Now().Sub(meta.Timestamp), true
}

func (s *NATSSubscriber) settle(message *nats.Msg, outcome settlement) {
	var err error
	switch outcome {
	case settleTerm:
		err = message.Term()
	case settleRetry:
		if s.nackDelay > 0 {
			err = message.NakWithDelay(s.nackDelay)
		} else {
			err = message.Nak()
		}
	default:
		err = message.Ack()
	}
	if err != nil {
		s.logger.Warn("nats ingest settle failed", "subject", message.Subject, "outcome", int(outcome), "error", err.Error())
	}
}

// ensureIngestStream creates the host callback work queue when missing.
func ensureIngestStream(js nats.JetStreamContext, cfg config.NATSIngestConfig) error {
	if _, err := js.StreamInfo(cfg.Stream); err == nil {
		return nil
	}
	maxAge := time.Hour
	if cfg.MaxAgeSec > 0 {
		maxAge = time.Duration(cfg.MaxAgeSec) * time.Second
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create ingest stream %q: %w", cfg.Stream, err)
	}
	return nil
}

// Close drains every queue subscription.
// Params: none.
// Returns: first drain error.
func (s *NATSSubscriber) Close() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.subs = nil
	return firstErr
}
