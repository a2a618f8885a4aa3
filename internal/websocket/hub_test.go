package websocket

import (
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lazywriting/api/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func receive(t *testing.T, c *Client) model.WSMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg model.WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return model.WSMessage{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_TopicIsolation(t *testing.T) {
	h := startHub(t)
	grok, qwen := NewClient(), NewClient()
	h.Register(grok)
	h.Register(qwen)
	h.Subscribe(grok, "base_grok")
	h.Subscribe(qwen, "base_qwen")

	h.Broadcast("base_grok", []byte(`{"type":"chunk"}`))

	assert.Equal(t, "chunk", receive(t, grok).Type)
	assertSilent(t, qwen)
}

func TestHub_ControlMessages(t *testing.T) {
	h := startHub(t)
	c := NewClient()
	h.Register(c)

	h.HandleMessage(c, []byte(`{"type":"ping"}`))
	assert.Equal(t, model.WSMessageTypePong, receive(t, c).Type)

	h.HandleMessage(c, []byte(`{"type":"subscribe","topic":"base_draft_grok"}`))
	ack := receive(t, c)
	assert.Equal(t, model.WSMessageTypeSubscribed, ack.Type)
	assert.Equal(t, "base_draft_grok", ack.Topic)

	h.Broadcast("base_draft_grok", []byte(`{"type":"complete"}`))
	assert.Equal(t, "complete", receive(t, c).Type)

	h.HandleMessage(c, []byte(`{"type":"unsubscribe","topic":"base_draft_grok"}`))
	h.Broadcast("base_draft_grok", []byte(`{"type":"complete"}`))
	assertSilent(t, c)
}

func TestHub_UnknownMessagesAreIgnored(t *testing.T) {
	h := startHub(t)
	c := NewClient()
	h.Register(c)

	h.HandleMessage(c, []byte(`{"type":"future-feature","topic":"x"}`))
	h.HandleMessage(c, []byte(`not json`))
	assertSilent(t, c)
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := startHub(t)
	c := NewClient()
	h.Register(c)
	h.Subscribe(c, "a")
	h.Subscribe(c, "b")
	h.Unregister(c)

	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Equal(t, 0, h.ClientCount())

	// Broadcasting to topics of a dropped client must not panic
	h.Broadcast("a", []byte(`{}`))
	assert.Equal(t, 0, h.ClientCount())
}

// slowConn is a WebSocket connection whose writes take a while
type slowConn struct {
	in       chan []byte
	started  chan int
	returned atomic.Bool
	late     atomic.Int32
}

func newSlowConn() *slowConn {
	return &slowConn{in: make(chan []byte), started: make(chan int, 64)}
}

func (c *slowConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.in
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, msg, nil
}

func (c *slowConn) WriteMessage(messageType int, _ []byte) error {
	c.started <- messageType
	time.Sleep(30 * time.Millisecond)
	if c.returned.Load() {
		c.late.Add(1)
	}
	return nil
}

func (c *slowConn) awaitWrite(t *testing.T) {
	t.Helper()
	for {
		select {
		case mt := <-c.started:
			if mt == websocket.TextMessage {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no write started")
		}
	}
}

func TestHandleConnection_WaitsForWriter(t *testing.T) {
	h := startHub(t)
	conn := newSlowConn()

	done := make(chan struct{})
	go func() {
		h.HandleConnection(conn, []string{"base_grok"})
		conn.returned.Store(true)
		close(done)
	}()

	conn.in <- []byte(`{"type":"ping"}`)
	conn.awaitWrite(t)

	for i := 0; i < 3; i++ {
		h.Broadcast("base_grok", []byte(`{"type":"chunk"}`))
	}
	conn.awaitWrite(t)
	close(conn.in)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not return")
	}
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, conn.late.Load())
	assert.Equal(t, 0, h.ClientCount())
}
