package events

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events to Redis Pub/Sub on "{channel}:{recording}".
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Str("channel", cfg.Channel).
		Msg("redis event publisher connected")

	return NewRedisPublisherWithClient(client, cfg.Channel), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "rtastore:events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Name() string {
	return "redis"
}

// Channel returns the channel events for recordingID are published on.
func (p *RedisPublisher) Channel(recordingID string) string {
	return p.channel + ":" + recordingID
}

func (p *RedisPublisher) Publish(ctx context.Context, recordingID string, event []byte) error {
	start := time.Now()
	channel := p.Channel(recordingID)

	res := p.client.Publish(ctx, channel, event)
	if err := res.Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	EventsDeliveryDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	logger.Debug().
		Str("channel", channel).
		Int64("subscribers", res.Val()).
		Msg("published event to redis")
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
