package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/lazywriting/api/internal/model"
)

// Client represents a WebSocket client subscribed to any number of topics
type Client struct {
	Send chan []byte
}

// NewClient creates a client with a buffered outbound queue
func NewClient() *Client {
	return &Client{Send: make(chan []byte, 256)}
}

type subscription struct {
	client *Client
	topic  string
	add    bool
}

type directMessage struct {
	client *Client
	data   []byte
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	Topic   string
	Message []byte
}

// Hub maintains active WebSocket connections keyed by topic. All maps are
// owned by the Run loop.
type Hub struct {
	// Clients grouped by topic
	topics map[string]map[*Client]struct{}
	// Topics per client, used to drop a client everywhere at once
	clients map[*Client]map[string]struct{}

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	direct     chan directMessage
	broadcast  chan *BroadcastMessage
	stats      chan chan int

	done   chan struct{}
	logger *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:     make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]map[string]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		direct:     make(chan directMessage, 64),
		broadcast:  make(chan *BroadcastMessage, 1024),
		stats:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = make(map[string]struct{})

		case client := <-h.unregister:
			h.drop(client)

		case sub := <-h.subscribe:
			topics, ok := h.clients[sub.client]
			if !ok {
				continue
			}
			if sub.add {
				if h.topics[sub.topic] == nil {
					h.topics[sub.topic] = make(map[*Client]struct{})
				}
				h.topics[sub.topic][sub.client] = struct{}{}
				topics[sub.topic] = struct{}{}
			} else {
				h.leave(sub.client, sub.topic)
			}

		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.deliver(msg.client, msg.data)
			}

		case msg := <-h.broadcast:
			for client := range h.topics[msg.Topic] {
				h.deliver(client, msg.Message)
			}

		case reply := <-h.stats:
			reply <- len(h.clients)
		}
	}
}

// deliver queues data for client, dropping clients that cannot keep up
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.logger.Warn("Dropping slow WebSocket client")
		h.drop(client)
	}
}

func (h *Hub) leave(client *Client, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if topics, ok := h.clients[client]; ok {
		delete(topics, topic)
	}
}

func (h *Hub) drop(client *Client) {
	topics, ok := h.clients[client]
	if !ok {
		return
	}
	for topic := range topics {
		h.leave(client, topic)
	}
	delete(h.clients, client)
	close(client.Send)
}

func (h *Hub) send(ch chan<- *Client, client *Client) {
	select {
	case ch <- client:
	case <-h.done:
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) { h.send(h.register, client) }

// Unregister removes a client and closes its Send channel
func (h *Hub) Unregister(client *Client) { h.send(h.unregister, client) }

// Subscribe adds client to topic
func (h *Hub) Subscribe(client *Client, topic string) {
	select {
	case h.subscribe <- subscription{client: client, topic: topic, add: true}:
	case <-h.done:
	}
}

// Unsubscribe removes client from topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	select {
	case h.subscribe <- subscription{client: client, topic: topic}:
	case <-h.done:
	}
}

// Broadcast sends a raw event payload to every subscriber of topic
func (h *Hub) Broadcast(topic string, data []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{Topic: topic, Message: data}:
	case <-h.done:
	}
}

// Reply sends a message to a single client
func (h *Hub) Reply(client *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	select {
	case h.direct <- directMessage{client: client, data: data}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.stats <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// HandleMessage applies one client control message. Unknown types are ignored.
func (h *Hub) HandleMessage(client *Client, raw []byte) {
	var msg model.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case model.WSMessageTypePing:
		h.Reply(client, model.WSMessage{Type: model.WSMessageTypePong})
	case model.WSMessageTypeSubscribe:
		if msg.Topic == "" {
			return
		}
		h.Subscribe(client, msg.Topic)
		h.Reply(client, model.WSMessage{Type: model.WSMessageTypeSubscribed, Topic: msg.Topic})
	case model.WSMessageTypeUnsubscribe:
		if msg.Topic != "" {
			h.Unsubscribe(client, msg.Topic)
		}
	}
}

// Conn is the part of a WebSocket connection the hub drives
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// HandleConnection handles a WebSocket connection subscribed to topics. It
// returns only after the writer has stopped touching c.
func (h *Hub) HandleConnection(c Conn, topics []string) {
	client := NewClient()

	h.Register(client)
	defer h.Unregister(client)

	for _, topic := range topics {
		h.Subscribe(client, topic)
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})

	// Start writer goroutine
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return

			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", zap.Error(err))
			}
			break
		}
		h.HandleMessage(client, message)
	}

	close(stop)
	<-writerDone
}
