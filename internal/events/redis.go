package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relevance-service/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the slice of the redis client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events as JSON on "<channel>:<runID>".
type RedisPublisher struct {
	client  Publisher
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info("Connected to redis", zap.String("addr", addr))
	return client, nil
}

func NewRedisPublisher(client Publisher, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = "relevance:events"
	}
	return &RedisPublisher{client: client, channel: channel, timeout: 2 * time.Second, logger: logger}
}

// Channel returns the channel name used for a run.
func (p *RedisPublisher) Channel(runID string) string {
	return p.channel + ":" + runID
}

func (p *RedisPublisher) Handle(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.Channel(ev.RunID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
