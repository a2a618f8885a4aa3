// Package stream carries lifecycle events from workers to WebSocket subscribers
// over Redis pub/sub, so API and worker processes can run separately.
package stream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lazywriting/api/internal/metrics"
	"github.com/lazywriting/api/internal/model"
)

// ChannelPrefix namespaces topic channels in Redis
const ChannelPrefix = "stream:"

// Publisher delivers one event to a topic. Events published by one caller on
// one topic are delivered in call order.
type Publisher interface {
	Publish(ctx context.Context, topic string, event model.Event) error
}

// RedisPublisher publishes JSON events to stream:{topic}
type RedisPublisher struct {
	rdb     *redis.Client
	metrics *metrics.Collector
}

func NewRedisPublisher(rdb *redis.Client, m *metrics.Collector) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, metrics: m}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, event model.Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	if err := p.rdb.Publish(ctx, ChannelPrefix+topic, data).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish %s on %s", event.Type, topic)
	}
	p.metrics.RecordEvent(event.Type)
	return nil
}

// Broadcaster fans a raw payload out to a topic's local subscribers
type Broadcaster interface {
	Broadcast(topic string, data []byte)
}

// Relay forwards every stream:* message to the local hub. A single relay
// loop keeps per-topic order intact.
type Relay struct {
	rdb    *redis.Client
	hub    Broadcaster
	logger *zap.Logger
}

func NewRelay(rdb *redis.Client, hub Broadcaster, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{rdb: rdb, hub: hub, logger: logger.With(zap.String("component", "stream_relay"))}
}

// Run subscribes and relays until ctx is done. ready, if non-nil, is closed
// once the subscription is active.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "failed to subscribe to stream channels")
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("Stream relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			r.hub.Broadcast(topic, []byte(msg.Payload))
		}
	}
}
