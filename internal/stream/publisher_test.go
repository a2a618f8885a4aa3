package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lazywriting/api/internal/metrics"
	"github.com/lazywriting/api/internal/model"
)

type captureHub struct {
	mu       sync.Mutex
	received map[string][][]byte
}

func (h *captureHub) Broadcast(topic string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received[topic] = append(h.received[topic], data)
}

func (h *captureHub) count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received[topic])
}

func (h *captureHub) events(topic string) []model.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.Event
	for _, raw := range h.received[topic] {
		var e model.Event
		if err := json.Unmarshal(raw, &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func TestRelay_ForwardsInOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := &captureHub{received: map[string][][]byte{}}
	relay := NewRelay(rdb, hub, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() { _ = relay.Run(ctx, ready) }()
	<-ready

	pub := NewRedisPublisher(rdb, metrics.NewCollector("test", prometheus.NewRegistry()))
	topic := model.ProviderTopic("article_1", model.StageBrainstorm, model.ProviderGrok)
	p := &model.GenerationPayload{ArticleID: "1", Stage: model.StageBrainstorm, Provider: model.ProviderGrok, Generation: 1}

	parts := []string{"关于", "效率的", "三个观察..."}
	for _, part := range parts {
		require.NoError(t, pub.Publish(ctx, topic, model.ChunkEvent(p, part)))
	}
	require.NoError(t, pub.Publish(ctx, topic, model.CompleteEvent(p, "关于效率的三个观察...")))

	require.Eventually(t, func() bool { return hub.count(topic) == 4 }, 2*time.Second, 10*time.Millisecond)

	events := hub.events(topic)
	var text string
	for _, e := range events[:3] {
		assert.Equal(t, model.EventTypeChunk, e.Type)
		text += e.Text
	}
	assert.Equal(t, model.EventTypeComplete, events[3].Type)
	assert.Equal(t, events[3].FullText, text)
	assert.Zero(t, hub.count("article_1_qwen"))
}

func TestPublish_RequiresType(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	err := NewRedisPublisher(rdb, nil).Publish(context.Background(), "t", model.Event{})
	assert.Error(t, err)
}
