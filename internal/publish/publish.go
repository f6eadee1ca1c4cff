package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher sends one live notification to a channel. Implementations
// carry their own transport semantics; retries live in Retrier.
type Publisher interface {
	Send(ctx context.Context, channel, event string, payload map[string]any) error
}

// Message is the wire envelope pushed to the live channel.
type Message struct {
	ID      string         `json:"id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// RedisPublisher fans out over Redis Pub/Sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Redis-backed publisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Send JSON-encodes the message and PUBLISHes it. Each message carries a
// fresh id so consumers can deduplicate redelivery from retries.
func (p *RedisPublisher) Send(ctx context.Context, channel, event string, payload map[string]any) error {
	msg := Message{
		ID:      uuid.New().String(),
		Event:   event,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Nop discards every message. Used when no live channel is configured.
type Nop struct{}

func (Nop) Send(context.Context, string, string, map[string]any) error {
	return nil
}
