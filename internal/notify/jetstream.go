package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"barrage/internal/config"
	"barrage/internal/domain"

	"github.com/nats-io/nats.go"
)

const notifyStreamMaxAge = 24 * time.Hour

// JetStreamSender publishes notifications into a JetStream stream for other services.
// Params: JetStream context, subject and stream.
// Returns: broker-backed channel sender.
type JetStreamSender struct {
	name    string
	js      nats.JetStreamContext
	subject string
}

// NewJetStreamSender creates publisher and ensures its stream exists.
// Params: channel name, channel config and JetStream context.
// Returns: sender or stream setup error.
func NewJetStreamSender(name string, cfg config.ChannelConfig, js nats.JetStreamContext) (*JetStreamSender, error) {
	if err := ensureStream(js, cfg.Stream, cfg.Subject, nats.LimitsPolicy, notifyStreamMaxAge); err != nil {
		return nil, err
	}
	return &JetStreamSender{name: name, js: js, subject: cfg.Subject}, nil
}

// Channel returns sender channel name.
func (s *JetStreamSender) Channel() string {
	return s.name
}

// Send publishes one JSON notification.
// Params: context and notification payload.
// Returns: publish error.
func (s *JetStreamSender) Send(ctx context.Context, notification domain.Notification) (Result, error) {
	body, err := json.Marshal(notification)
	if err != nil {
		return Result{}, fmt.Errorf("marshal jetstream notification: %w", err)
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = body
	if id := messageID(notification); id != "" {
		msg.Header.Set("Nats-Msg-Id", id)
	}
	ack, err := s.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return Result{}, fmt.Errorf("publish jetstream notification: %w", err)
	}
	result := Result{}
	if ack != nil {
		result.ExternalRef = fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)
	}
	return result, nil
}

// messageID builds the JetStream dedup id for one notification.
func messageID(notification domain.Notification) string {
	if strings.TrimSpace(notification.EventID) == "" || notification.Timestamp.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s|%s|%d", notification.EventID, notification.Kind, notification.Timestamp.UnixNano())
}

// ensureStream ensures one JetStream stream exists with provided options.
// Params: JetStream context and stream settings.
// Returns: stream create/lookup error.
func ensureStream(
	js nats.JetStreamContext,
	streamName string,
	subject string,
	retention nats.RetentionPolicy,
	maxAge time.Duration,
) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: retention,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
