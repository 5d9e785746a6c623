package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"barrage/internal/config"
	"barrage/internal/domain"
	"barrage/internal/fault"
	"barrage/internal/templatefmt"

	"github.com/nats-io/nats.go"
)

// ErrClosed is reported to delivery callbacks after the sink was closed.
var ErrClosed = errors.New("notification sink closed")

// Result returns channel-specific metadata after delivery.
// Params: HTTP status (0 for non-HTTP transports) and optional message identifiers.
// Returns: delivery status reported back to the dispatcher.
type Result struct {
	StatusCode  int
	MessageID   int
	ExternalRef string
}

// Sender sends one outbound notification to one channel.
// Params: context and notification payload.
// Returns: delivery metadata and transport error when send fails.
type Sender interface {
	Channel() string
	Send(ctx context.Context, notification domain.Notification) (Result, error)
}

// Options carries optional collaborators for sink construction.
type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	// JetStream is required only when a jetstream channel is configured.
	JetStream nats.JetStreamContext
}

// Sink delivers notifications asynchronously, at most once per call.
// Params: channel senders and per-send timeout.
// Returns: fire-and-forget delivery facility; failures are reported, never retried.
type Sink struct {
	senders map[string]Sender
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSink builds sink from enabled notify channels.
// Params: notify config and optional collaborators.
// Returns: sink or configuration error for channels that cannot be built.
func NewSink(cfg config.NotifyConfig, opts Options) (*Sink, error) {
	senders := make([]Sender, 0, len(cfg.Channel))
	for _, name := range config.ChannelNames(cfg) {
		sender, err := newSender(name, cfg.Channel[name], opts)
		if err != nil {
			return nil, fault.Mark(fault.Config, fmt.Errorf("notify channel %q: %w", name, err))
		}
		senders = append(senders, sender)
	}
	timeout := time.Duration(cfg.Queue.SendTimeoutSec) * time.Second
	return NewSinkWithSenders(senders, timeout, opts.Logger), nil
}

// NewSinkWithSenders builds sink over explicit senders.
// Params: senders keyed by their Channel name, per-send timeout and optional logger.
// Returns: ready sink.
func NewSinkWithSenders(senders []Sender, timeout time.Duration, logger *slog.Logger) *Sink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	byName := make(map[string]Sender, len(senders))
	for _, sender := range senders {
		if sender != nil {
			byName[sender.Channel()] = sender
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		senders: byName,
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func newSender(name string, channel config.ChannelConfig, opts Options) (Sender, error) {
	tmpl, err := channelTemplate(name, channel.Template)
	if err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(channel.TimeoutSec) * time.Second}
	}
	switch channel.Type {
	case config.ChannelTypeDiscord:
		return NewDiscordSender(name, channel, client), nil
	case config.ChannelTypeHTTP:
		return NewHTTPSender(name, channel, tmpl, client), nil
	case config.ChannelTypeMattermost:
		return NewMattermostSender(name, channel, tmpl, client), nil
	case config.ChannelTypeTelegram:
		return NewTelegramSender(name, channel, tmpl, client), nil
	case config.ChannelTypeJetStream:
		if opts.JetStream == nil {
			return nil, errors.New("jetstream channel requires a nats connection")
		}
		return NewJetStreamSender(name, channel, opts.JetStream)
	default:
		return nil, fmt.Errorf("unsupported channel type %q", channel.Type)
	}
}

// channelTemplate compiles the channel text template or the shared default.
func channelTemplate(name, body string) (*template.Template, error) {
	if strings.TrimSpace(body) == "" {
		body = templatefmt.DefaultText
	}
	tmpl, err := templatefmt.ParseNotificationTemplate("notify.channel."+name+".template", body)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return tmpl, nil
}

// Channels returns configured channel names.
// Params: none.
// Returns: sorted sender keys.
func (s *Sink) Channels() []string {
	names := make([]string, 0, len(s.senders))
	for name := range s.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether channel is configured.
func (s *Sink) Has(channel string) bool {
	_, ok := s.senders[channel]
	return ok
}

// Deliver sends notification to channel in the background.
// Params: destination channel, payload and optional completion callback.
// Returns: nothing; done runs exactly once on a sink goroutine with the outcome.
//
// done must not block on the caller's loop; callers post results back instead.
func (s *Sink) Deliver(channel string, notification domain.Notification, done func(Result, error)) {
	if done == nil {
		done = func(Result, error) {}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go done(Result{}, ErrClosed)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	sender, ok := s.senders[channel]
	if !ok {
		err := fault.Mark(fault.Transport, fmt.Errorf("notify channel %q is not configured", channel))
		go func() {
			defer s.wg.Done()
			done(Result{}, err)
		}()
		return
	}

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		result, err := sender.Send(ctx, notification)
		if err != nil {
			err = fault.Mark(fault.Transport, err)
			if s.logger != nil {
				s.logger.Warn("notify send failed",
					"channel", channel,
					"category", notification.Category,
					"kind", notification.Kind,
					"event_id", notification.EventID,
					"status", result.StatusCode,
					"error", err.Error(),
				)
			}
		}
		done(result, err)
	}()
}

// Close stops accepting deliveries and waits for in-flight sends.
// Params: context bounding the wait; on expiry in-flight sends are cancelled.
// Returns: context error when the wait timed out.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-finished
		return ctx.Err()
	}
}
