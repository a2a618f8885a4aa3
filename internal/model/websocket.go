package model

// Event types published to subscribers
const (
	EventTypeSubjectCreated           = "subject-created"
	EventTypeStatusChanged            = "status-changed"
	EventTypeChunk                    = "chunk"
	EventTypeStreamReset              = "stream-reset"
	EventTypeComplete                 = "complete"
	EventTypeError                    = "error"
	EventTypeRegenerationStarted      = "regeneration-started"
	EventTypeAllDraftsStarted         = "all-drafts-started"
	EventTypeDraftRegenerationStarted = "draft-regeneration-started"
)

// Client -> server message types
const (
	WSMessageTypePing        = "ping"
	WSMessageTypePong        = "pong"
	WSMessageTypeSubscribe   = "subscribe"
	WSMessageTypeUnsubscribe = "unsubscribe"
	WSMessageTypeSubscribed  = "subscribed"
)

// Event is a tagged record on a topic. Type is mandatory; consumers route on it
// and ignore types they do not know.
//
// Provider events carry the generation of the task that emitted them. A
// superseded task can still emit chunks on the same topic after a newer one
// started, so subscribers keep the highest generation seen per topic and drop
// events with a lower one.
type Event struct {
	Type       string       `json:"type"`
	ArticleID  string       `json:"articleId,omitempty"`
	Stage      Stage        `json:"stage,omitempty"`
	Provider   Provider     `json:"provider,omitempty"`
	Generation int64        `json:"generation,omitempty"`
	Status     ResultStatus `json:"status,omitempty"`
	Text       string       `json:"text,omitempty"`
	FullText   string       `json:"fullText,omitempty"`
	Message    string       `json:"message,omitempty"`
	Code       string       `json:"code,omitempty"`
	Attempt    int          `json:"attempt,omitempty"`
	Providers  []Provider   `json:"providers,omitempty"`
}

// WSMessage represents a client control message
type WSMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// Event constructors

func SubjectCreatedEvent(articleID string) Event {
	return Event{Type: EventTypeSubjectCreated, ArticleID: articleID}
}

func StatusChangedEvent(p *GenerationPayload, status ResultStatus) Event {
	return Event{
		Type: EventTypeStatusChanged, ArticleID: p.ArticleID, Stage: p.Stage,
		Provider: p.Provider, Generation: p.Generation, Status: status,
	}
}

func ChunkEvent(p *GenerationPayload, text string) Event {
	return Event{
		Type: EventTypeChunk, ArticleID: p.ArticleID, Stage: p.Stage,
		Provider: p.Provider, Generation: p.Generation, Text: text,
	}
}

func StreamResetEvent(p *GenerationPayload, attempt int) Event {
	return Event{
		Type: EventTypeStreamReset, ArticleID: p.ArticleID, Stage: p.Stage,
		Provider: p.Provider, Generation: p.Generation, Attempt: attempt,
	}
}

func CompleteEvent(p *GenerationPayload, fullText string) Event {
	return Event{
		Type: EventTypeComplete, ArticleID: p.ArticleID, Stage: p.Stage,
		Provider: p.Provider, Generation: p.Generation, FullText: fullText,
	}
}

func ErrorEvent(p *GenerationPayload, code, message string) Event {
	return Event{
		Type: EventTypeError, ArticleID: p.ArticleID, Stage: p.Stage,
		Provider: p.Provider, Generation: p.Generation, Code: code, Message: message,
	}
}
