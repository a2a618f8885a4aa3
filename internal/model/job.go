package model

import "time"

// GenerationPayload describes one (article, stage, provider) execution.
// It is serialized into the background queue, so it never carries credentials;
// the worker resolves endpoint and key from the provider registry.
type GenerationPayload struct {
	ArticleID  string   `json:"articleId"`
	StreamBase string   `json:"streamBase"`
	Stage      Stage    `json:"stage"`
	Provider   Provider `json:"provider"`
	// Backend is the provider actually called. It differs from Provider only for
	// the fused draft, whose result slot is ProviderDraft.
	Backend    Provider `json:"backend"`
	Generation int64    `json:"generation"`
	// BatchID is set only for brainstorm tasks dispatched together by StartAll
	BatchID string `json:"batchId,omitempty"`

	Prompt            string        `json:"prompt"`
	SystemInstruction string        `json:"systemInstruction,omitempty"`
	Temperature       float64       `json:"temperature"`
	MaxTokens         int           `json:"maxTokens"`
	Timeout           time.Duration `json:"timeout"`
	Streaming         bool          `json:"streaming"`
}

// Topic returns the event feed this task publishes to
func (p *GenerationPayload) Topic() string {
	return ProviderTopic(p.StreamBase, p.Stage, p.Provider)
}

// Queue names
const (
	QueueBrainstorm = "brainstorm"
	QueueDraft      = "draft"
)

// QueueFor maps a stage to its background queue
func QueueFor(stage Stage) string {
	if stage == StageBrainstorm {
		return QueueBrainstorm
	}
	return QueueDraft
}

// Key returns the result row this task writes
func (p *GenerationPayload) Key() ResultKey {
	return ResultKey{ArticleID: p.ArticleID, Stage: p.Stage, Provider: p.Provider}
}
