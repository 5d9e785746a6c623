package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"barrage/internal/domain"

	"github.com/nats-io/nats.go"
)

// Reply error codes understood by the bridge.
const (
	ReplyCodeDefinitionMissing = "definition_missing"
	ReplyCodeComponentMissing  = "component_missing"
)

// Reply is the host plugin answer to a spawn or drop request.
type Reply struct {
	Handle domain.Handle `json:"handle,omitempty"`
	Code   string        `json:"code,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type dropRequest struct {
	Shortname string      `json:"shortname"`
	Amount    int         `json:"amount"`
	Position  domain.Vec3 `json:"position"`
}

type shakeMessage struct {
	PlayerID  string  `json:"player_id"`
	Intensity float64 `json:"intensity"`
}

type markerRemoval struct {
	EventID string `json:"event_id,omitempty"`
}

type chatMessage struct {
	Message string `json:"message"`
}

// Bridge drives a game server plugin over NATS.
// Spawns and drops use request/reply; markers, effects, chat and hooks are published.
//
// Subjects are <prefix>.spawn, <prefix>.drop, <prefix>.marker.add,
// <prefix>.marker.remove, <prefix>.marker.clear, <prefix>.effect.shake,
// <prefix>.chat and <prefix>.hook.<name>.
type Bridge struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewBridge creates bridge on an open connection.
// Params: connection, subject prefix, request timeout and optional logger.
// Returns: bridge implementing Host.
func NewBridge(nc *nats.Conn, prefix string, timeout time.Duration, logger *slog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Bridge{
		nc:      nc,
		prefix:  strings.TrimRight(strings.TrimSpace(prefix), "."),
		timeout: timeout,
		logger:  logger,
	}
}

func (b *Bridge) subject(parts ...string) string {
	return b.prefix + "." + strings.Join(parts, ".")
}

// Spawn asks the plugin to create a projectile.
// Params: context and spawn request.
// Returns: handle, or ErrDefinitionMissing/ErrComponentMissing/transport error.
func (b *Bridge) Spawn(ctx context.Context, req SpawnRequest) (domain.Handle, error) {
	reply, err := b.request(ctx, b.subject("spawn"), req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(reply.Handle)) == "" {
		return "", errors.New("spawn reply missing handle")
	}
	return reply.Handle, nil
}

// DropItem asks the plugin to drop an item stack.
func (b *Bridge) DropItem(ctx context.Context, shortname string, amount int, position domain.Vec3) error {
	_, err := b.request(ctx, b.subject("drop"), dropRequest{Shortname: shortname, Amount: amount, Position: position})
	return err
}

// AddMarker publishes marker creation.
func (b *Bridge) AddMarker(_ context.Context, marker Marker) error {
	return b.publish(b.subject("marker", "add"), marker)
}

// RemoveMarkers publishes removal of one event's markers.
func (b *Bridge) RemoveMarkers(_ context.Context, eventID string) error {
	return b.publish(b.subject("marker", "remove"), markerRemoval{EventID: eventID})
}

// RemoveAllMarkers publishes removal of every engine marker.
func (b *Bridge) RemoveAllMarkers(context.Context) error {
	return b.publish(b.subject("marker", "clear"), markerRemoval{})
}

// Shake publishes screen shake without waiting for the plugin.
func (b *Bridge) Shake(playerID string, intensity float64) error {
	return b.publish(b.subject("effect", "shake"), shakeMessage{PlayerID: playerID, Intensity: intensity})
}

// Broadcast publishes chat line.
func (b *Bridge) Broadcast(message string) error {
	return b.publish(b.subject("chat"), chatMessage{Message: message})
}

// Publish publishes lifecycle hook.
func (b *Bridge) Publish(hook string, payload any) error {
	return b.publish(b.subject("hook", hook), payload)
}

func (b *Bridge) publish(subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := b.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *Bridge) request(ctx context.Context, subject string, payload any) (Reply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal %s: %w", subject, err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	msg, err := b.nc.RequestWithContext(ctx, subject, body)
	if err != nil {
		return Reply{}, fmt.Errorf("request %s: %w", subject, err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return reply, reply.err()
}

func (r Reply) err() error {
	switch r.Code {
	case "":
		if r.Error != "" {
			return errors.New(r.Error)
		}
		return nil
	case ReplyCodeDefinitionMissing:
		return fmt.Errorf("%s: %w", r.Error, ErrDefinitionMissing)
	case ReplyCodeComponentMissing:
		return fmt.Errorf("%s: %w", r.Error, ErrComponentMissing)
	default:
		return fmt.Errorf("host error %s: %s", r.Code, r.Error)
	}
}
