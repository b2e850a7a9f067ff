package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"installment_notifier/internal/domain/notification"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "notifications"

// RedisBridge publishes freshly stored notifications over Redis Pub/Sub. Every API instance
// subscribes and forwards the pushes to its connected clients.
type RedisBridge struct {
	client  *redis.Client
	channel string
	logger  *logrus.Entry
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisBridge(client *redis.Client, channel string, logger *logrus.Entry) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, channel: channel, logger: logger}
}

// Push publishes p as {"user_ids": [...], "data": {...}}.
func (b *RedisBridge) Push(ctx context.Context, p notification.Push) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal push: %w", err)
	}
	receivers, err := b.client.Publish(ctx, b.channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish push: %w", err)
	}
	b.logger.WithFields(logrus.Fields{
		"channel":   b.channel,
		"users":     len(p.UserIDs),
		"receivers": receivers,
	}).Debug("Published notification push")
	return nil
}

// Subscribe delivers every push published on the channel until ctx is done. The returned channel
// is closed when the subscription ends.
func (b *RedisBridge) Subscribe(ctx context.Context) (<-chan notification.Push, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	out := make(chan notification.Push, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var p notification.Push
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					b.logger.WithError(err).Warn("Dropping malformed push message")
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// NopBridge is used when no Redis is configured. Pushes go nowhere; stored records are unaffected.
type NopBridge struct {
	logger *logrus.Entry
}

func NewNopBridge(logger *logrus.Entry) *NopBridge {
	return &NopBridge{logger: logger}
}

func (b *NopBridge) Push(ctx context.Context, p notification.Push) error {
	b.logger.WithField("users", len(p.UserIDs)).Debug("Live push disabled, skipping")
	return nil
}

func (b *NopBridge) Subscribe(ctx context.Context) (<-chan notification.Push, error) {
	out := make(chan notification.Push)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
