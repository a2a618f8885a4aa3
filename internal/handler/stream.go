package handler

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/lazywriting/api/internal/websocket"
)

const maxInitialTopics = 32

type StreamHandler struct {
	hub *ws.Hub
}

func NewStreamHandler(hub *ws.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Upgrade rejects plain HTTP requests on the WebSocket routes
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("topics", parseTopics(c.Query("topics")))
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Streams handles GET /ws/streams?topics=a,b. Clients may subscribe to more
// topics later over the socket.
func (h *StreamHandler) Streams() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		topics, _ := c.Locals("topics").([]string)
		h.hub.HandleConnection(c, topics)
	})
}

func parseTopics(raw string) []string {
	var topics []string
	seen := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
		if len(topics) == maxInitialTopics {
			break
		}
	}
	return topics
}
