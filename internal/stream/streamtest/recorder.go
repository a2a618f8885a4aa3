// Package streamtest records published events for assertions.
package streamtest

import (
	"context"
	"strings"
	"sync"

	"github.com/lazywriting/api/internal/model"
)

// Recorder is an in-memory stream.Publisher
type Recorder struct {
	mu     sync.Mutex
	events map[string][]model.Event
}

func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]model.Event)}
}

func (r *Recorder) Publish(_ context.Context, topic string, event model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[topic] = append(r.events[topic], event)
	return nil
}

// Events returns a copy of the events published on topic, in order
func (r *Recorder) Events(topic string) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events[topic]...)
}

// OfType returns the events of the given type on topic
func (r *Recorder) OfType(topic, eventType string) []model.Event {
	var out []model.Event
	for _, e := range r.Events(topic) {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of eventType were published on any topic
func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, events := range r.events {
		for _, e := range events {
			if e.Type == eventType {
				n++
			}
		}
	}
	return n
}

// ChunkText concatenates the chunk events on topic published after the last
// stream-reset
func (r *Recorder) ChunkText(topic string) string {
	var b strings.Builder
	for _, e := range r.Events(topic) {
		switch e.Type {
		case model.EventTypeStreamReset:
			b.Reset()
		case model.EventTypeChunk:
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

// GenerationText is what a subscriber shows for one generation on topic: its
// chunks after its last stream-reset, ignoring every other generation
func (r *Recorder) GenerationText(topic string, generation int64) string {
	var b strings.Builder
	for _, e := range r.Events(topic) {
		if e.Generation != generation {
			continue
		}
		switch e.Type {
		case model.EventTypeStreamReset:
			b.Reset()
		case model.EventTypeChunk:
			b.WriteString(e.Text)
		}
	}
	return b.String()
}
