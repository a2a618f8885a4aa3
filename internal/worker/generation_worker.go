package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/lazywriting/api/internal/client"
	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/metrics"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/internal/store"
	"github.com/lazywriting/api/internal/stream"
)

// BrainstormHook is told when a batched brainstorm task is finished for good
type BrainstormHook interface {
	OnBrainstormTerminal(ctx context.Context, articleID, batchID string, provider model.Provider) error
}

// GenerationWorker runs one (article, stage, provider) generation per task
type GenerationWorker struct {
	articles  *store.ArticleStore
	registry  *client.Registry
	publisher stream.Publisher
	hook      BrainstormHook
	retry     config.RetryConfig
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(
	articles *store.ArticleStore,
	registry *client.Registry,
	publisher stream.Publisher,
	hook BrainstormHook,
	retry config.RetryConfig,
	m *metrics.Collector,
	logger *zap.Logger,
) *GenerationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationWorker{
		articles:  articles,
		registry:  registry,
		publisher: publisher,
		hook:      hook,
		retry:     retry,
		metrics:   m,
		logger:    logger.With(zap.String("component", "generation_worker")),
	}
}

// ProcessTask handles generation task processing
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p model.GenerationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return errors.Wrapf(asynq.SkipRetry, "failed to unmarshal generation payload: %v", err)
	}

	attempt, _ := asynq.GetRetryCount(ctx)
	return w.Run(ctx, &p, attempt)
}

// Run executes one attempt. attempt is 0 for the first try. A returned error
// that does not wrap asynq.SkipRetry asks the queue for another attempt.
func (w *GenerationWorker) Run(ctx context.Context, p *model.GenerationPayload, attempt int) error {
	log := w.logger.With(
		zap.String("article_id", p.ArticleID),
		zap.String("stage", string(p.Stage)),
		zap.String("provider", string(p.Provider)),
		zap.Int64("generation", p.Generation),
		zap.Int("attempt", attempt),
	)
	key := p.Key()
	topic := p.Topic()

	if err := w.articles.SetStatus(ctx, key, p.Generation, model.ResultStatusStreaming); err != nil {
		if errors.Is(err, store.ErrStale) {
			return w.discard(ctx, p, log)
		}
		return w.storeFailure(ctx, p, attempt, errors.Wrap(err, "failed to mark streaming"), log)
	}

	if attempt > 0 {
		w.publish(ctx, topic, model.StreamResetEvent(p, attempt), log)
	}
	w.publish(ctx, topic, model.StatusChangedEvent(p, model.ResultStatusStreaming), log)

	entry, ok := w.registry.Get(p.Backend)
	if !ok {
		cfgErr := &client.ConfigurationError{Provider: p.Backend, Field: "registry entry"}
		return w.fail(ctx, p, cfgErr, log)
	}

	req := client.Request{
		Prompt:            p.Prompt,
		SystemInstruction: p.SystemInstruction,
		Temperature:       p.Temperature,
		MaxTokens:         p.MaxTokens,
		Timeout:           p.Timeout,
	}

	var onChunk func(string) error
	if p.Streaming {
		onChunk = func(text string) error {
			w.metrics.RecordChunk(p.Stage, p.Provider)
			w.publish(ctx, topic, model.ChunkEvent(p, text), log)
			return nil
		}
	}

	start := time.Now()
	text, err := entry.Client.Generate(ctx, req, onChunk)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// Worker shutdown; the queue re-delivers the task
			return errors.Wrap(err, "generation interrupted")
		}
		if w.shouldRetry(err, attempt) {
			w.metrics.RecordTask(p.Stage, p.Provider, metrics.OutcomeRetry, elapsed)
			log.Warn("Generation attempt failed, retrying", zap.Error(err))
			return err
		}
		w.metrics.RecordTask(p.Stage, p.Provider, metrics.OutcomeError, elapsed)
		return w.fail(ctx, p, err, log)
	}

	if err := w.articles.SetContent(ctx, key, p.Generation, text); err != nil {
		if errors.Is(err, store.ErrStale) {
			return w.discard(ctx, p, log)
		}
		return w.storeFailure(ctx, p, attempt, errors.Wrap(err, "failed to store content"), log)
	}

	w.metrics.RecordTask(p.Stage, p.Provider, metrics.OutcomeComplete, elapsed)
	w.publish(ctx, topic, model.CompleteEvent(p, text), log)
	log.Info("Generation complete", zap.Int("chars", len([]rune(text))), zap.Duration("elapsed", elapsed))

	w.notify(ctx, p, log)
	return nil
}

// fail records the terminal error and stops the queue from retrying
func (w *GenerationWorker) fail(ctx context.Context, p *model.GenerationPayload, cause error, log *zap.Logger) error {
	msg := FailureMessage(w.registry.DisplayName(p.Backend), p.Stage, cause)

	if err := w.articles.SetError(ctx, p.Key(), p.Generation, msg); err != nil {
		if errors.Is(err, store.ErrStale) {
			return w.discard(ctx, p, log)
		}
		log.Error("Failed to record generation error", zap.Error(err))
	}

	w.publish(ctx, p.Topic(), model.ErrorEvent(p, errorCode(cause), msg), log)
	log.Error("Generation failed", zap.Error(cause))

	w.notify(ctx, p, log)
	return errors.Wrapf(asynq.SkipRetry, "generation failed: %v", cause)
}

// storeFailure asks for another attempt while the queue still has one, and
// otherwise ends the task with a terminal error
func (w *GenerationWorker) storeFailure(ctx context.Context, p *model.GenerationPayload, attempt int, err error, log *zap.Logger) error {
	err = errors.Mark(err, errStorage)
	if attempt < w.retry.MaxRetry() {
		log.Warn("Result store unavailable, retrying", zap.Error(err))
		return err
	}
	return w.fail(ctx, p, err, log)
}

// discard drops a superseded task without touching state or publishing
func (w *GenerationWorker) discard(ctx context.Context, p *model.GenerationPayload, log *zap.Logger) error {
	w.metrics.RecordTask(p.Stage, p.Provider, metrics.OutcomeStale, 0)
	log.Info("Discarding superseded generation")
	w.notify(ctx, p, log)
	return nil
}

func (w *GenerationWorker) notify(ctx context.Context, p *model.GenerationPayload, log *zap.Logger) {
	if p.BatchID == "" || p.Stage != model.StageBrainstorm || w.hook == nil {
		return
	}
	if err := w.hook.OnBrainstormTerminal(ctx, p.ArticleID, p.BatchID, p.Provider); err != nil {
		log.Error("Auto-chain hook failed", zap.Error(err))
	}
}

func (w *GenerationWorker) publish(ctx context.Context, topic string, event model.Event, log *zap.Logger) {
	if err := w.publisher.Publish(ctx, topic, event); err != nil {
		log.Warn("Failed to publish event", zap.String("type", event.Type), zap.Error(err))
	}
}
