package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

const DefaultChannel = "loyalty:events"

// RedisNotifier publishes events on a Redis pub/sub channel for the push
// notification service. Publishing failures are logged and dropped.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisNotifier publishes to channel, or DefaultChannel when empty.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel, timeout: 2 * time.Second}
}

func (n *RedisNotifier) Notify(ctx context.Context, event loyalty.Event) {
	envelope, err := NewEnvelope(event, time.Now())
	if err != nil {
		log.Errorf("[Notify] Failed to encode %s event for %s: %v", event.EventType(), event.Customer(), err)
		return
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Errorf("[Notify] Failed to encode envelope for %s: %v", event.Customer(), err)
		return
	}

	// Detached from the caller: async delivery can outlive the request.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.client.Publish(pubCtx, n.channel, data).Err(); err != nil {
		log.Errorf("[Notify] Failed to publish %s event for %s: %v", event.EventType(), event.Customer(), err)
	}
}
