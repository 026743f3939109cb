// Package eventbus publishes engine events to Redis pub/sub so downstream
// consumers (dashboards, alerting, journaling) can react to box formations,
// breakouts, and fills without coupling to the engine process.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeforge/boxbot/pkg/engine"
)

// Handler processes a received envelope.
type Handler func(ctx context.Context, env *Envelope) error

// Envelope wraps an engine event with routing metadata for the wire.
type Envelope struct {
	EventType   string       `json:"event_type"`
	Source      string       `json:"source"`
	PublishedAt time.Time    `json:"published_at"`
	Event       engine.Event `json:"event"`
}

// UnmarshalEnvelope decodes a wire payload.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshalling envelope: %w", err)
	}
	return &env, nil
}

// Bus wraps a Redis client for pub/sub fan-out of engine events.
type Bus struct {
	client        *redis.Client
	channelPrefix string
	source        string
	logger        *slog.Logger
}

// NewBus creates a Redis pub/sub bus. source identifies this process in
// published envelopes.
func NewBus(addr, password string, db int, channelPrefix, source string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Bus{
		client:        client,
		channelPrefix: channelPrefix,
		source:        source,
		logger:        logger,
	}
}

// HealthCheck verifies Redis connectivity.
func (b *Bus) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Publish sends an engine event to the channel derived from its type.
func (b *Bus) Publish(ctx context.Context, event engine.Event) error {
	env := Envelope{
		EventType:   string(event.Type),
		Source:      b.source,
		PublishedAt: time.Now().UTC(),
		Event:       event,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	channel := b.channelFor(string(event.Type))
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}

	b.logger.Debug("Published event",
		"event_type", event.Type,
		"channel", channel,
	)
	return nil
}

// Subscribe listens for events of the given type and calls handler for each.
// Blocks until ctx is cancelled. Returns nil on clean shutdown.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler Handler) error {
	channel := b.channelFor(eventType)
	pubsub := b.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	b.logger.Info("Subscribed to Redis channel", "channel", channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Unsubscribed from Redis channel", "channel", channel)
			return nil

		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("Redis subscription channel closed", "channel", channel)
				return nil
			}

			env, err := UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Error("Failed to unmarshal envelope",
					"channel", channel,
					"error", err,
					"payload_preview", truncate(msg.Payload, 200),
				)
				continue
			}

			if err := handler(ctx, env); err != nil {
				b.logger.Error("Handler failed",
					"event_type", env.EventType,
					"source", env.Source,
					"error", err,
				)
			}
		}
	}
}

// channelFor maps an event type to a Redis channel name.
func (b *Bus) channelFor(eventType string) string {
	return b.channelPrefix + ":" + eventType
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
