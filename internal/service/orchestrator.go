package service

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazywriting/api/internal/client"
	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/metrics"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/internal/store"
	"github.com/lazywriting/api/internal/stream"
)

const minTranscriptRunes = 10

var streamBasePattern = regexp.MustCompile(`^[A-Za-z0-9_\-:]+$`)

// StartAllCommand creates (or reuses) an article and brainstorms it on every
// enabled provider
type StartAllCommand struct {
	ArticleID         string
	Transcript        string
	ThinkingFramework model.ThinkingFramework
	WritingStyle      model.WritingStyle
	StreamBase        string
	AutoDraft         bool
}

// Deps are the collaborators of the Orchestrator
type Deps struct {
	Articles   *store.ArticleStore
	Users      *store.UserStore
	Registry   *client.Registry
	Dispatcher Dispatcher
	Publisher  stream.Publisher
	Barrier    *Barrier
	Stages     config.StagesConfig
	Fusion     config.FusionConfig
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// Orchestrator is the command surface of the generation pipeline. Every
// command validates, records pending state and enqueues; none waits for a
// provider.
type Orchestrator struct {
	articles   *store.ArticleStore
	users      *store.UserStore
	registry   *client.Registry
	dispatcher Dispatcher
	publisher  stream.Publisher
	barrier    *Barrier
	stages     config.StagesConfig
	fusion     model.Provider
	metrics    *metrics.Collector
	logger     *zap.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		articles:   deps.Articles,
		users:      deps.Users,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		publisher:  deps.Publisher,
		barrier:    deps.Barrier,
		stages:     deps.Stages,
		fusion:     deps.Fusion.Provider,
		metrics:    deps.Metrics,
		logger:     logger.With(zap.String("component", "orchestrator")),
	}
}

// StartAll dispatches one brainstorm task per enabled provider
func (o *Orchestrator) StartAll(ctx context.Context, principal *model.Principal, cmd StartAllCommand) (*model.StartAllResponse, error) {
	providers := o.registry.Enabled()
	if len(providers) == 0 {
		return nil, errors.WithHint(ErrInvalidCommand, "没有可用的模型")
	}

	var article *model.Article
	var err error
	if cmd.ArticleID != "" {
		article, err = o.loadArticle(ctx, principal, cmd.ArticleID)
	} else {
		article, err = o.createArticle(ctx, principal, cmd)
	}
	if err != nil {
		return nil, err
	}

	o.publish(ctx, model.BaseTopic(article.StreamBase), model.SubjectCreatedEvent(article.ID))

	var batchID string
	if article.AutoDraft {
		batchID = uuid.NewString()
		if err := o.barrier.Arm(ctx, article.ID, batchID, providers); err != nil {
			return nil, err
		}
	}

	prompt := BrainstormPrompt(article.Transcript, article.ThinkingFramework)
	failed := 0
	for _, p := range providers {
		if err := o.dispatch(ctx, article, model.StageBrainstorm, p, p, batchID, "", prompt); err != nil {
			o.logger.Error("Failed to dispatch brainstorm",
				zap.String("article_id", article.ID), zap.String("provider", string(p)), zap.Error(err))
			failed++
		}
	}
	if failed == len(providers) {
		return nil, errors.New("failed to dispatch any brainstorm task")
	}

	o.logger.Info("Brainstorm batch dispatched",
		zap.String("article_id", article.ID),
		zap.String("batch_id", batchID),
		zap.Int("providers", len(providers)))

	return &model.StartAllResponse{
		ArticleID:  article.ID,
		StreamBase: article.StreamBase,
		Topics:     model.TopicsFor(article.StreamBase, providers),
		Providers:  providers,
		CreatedAt:  article.CreatedAt,
	}, nil
}

func (o *Orchestrator) createArticle(ctx context.Context, principal *model.Principal, cmd StartAllCommand) (*model.Article, error) {
	transcript := strings.TrimSpace(cmd.Transcript)
	if utf8.RuneCountInString(transcript) < minTranscriptRunes {
		return nil, errors.WithHint(ErrInvalidCommand, "内容太短，至少需要 10 个字")
	}

	id := uuid.NewString()
	streamBase := cmd.StreamBase
	if streamBase == "" {
		streamBase = "article_" + strings.ReplaceAll(id, "-", "")
	} else if !streamBasePattern.MatchString(streamBase) {
		return nil, errors.WithHint(ErrInvalidCommand, "streamBase 只能包含字母、数字、下划线、连字符和冒号")
	}

	framework := cmd.ThinkingFramework
	if framework == "" {
		framework = model.ThinkingFrameworkOriginal
	}
	style := cmd.WritingStyle
	if style == "" {
		style = model.WritingStyleOriginal
	}

	article := &model.Article{
		ID:                id,
		StreamBase:        streamBase,
		Transcript:        transcript,
		ThinkingFramework: framework,
		WritingStyle:      style,
		AutoDraft:         cmd.AutoDraft,
		CreatedAt:         time.Now(),
	}

	var charge *string
	if principal != nil {
		if _, err := o.users.Ensure(ctx, principal.UserID, principal.Email); err != nil {
			return nil, err
		}
		article.UserID = &principal.UserID
		charge = &principal.UserID
	}

	err := o.articles.Create(ctx, article, charge)
	if errors.Is(err, store.ErrAllowanceExhausted) {
		msg := "创作次数已用完，请购买套餐后继续"
		o.publish(ctx, model.BaseTopic(streamBase), model.Event{
			Type:    model.EventTypeError,
			Code:    "QUOTA_EXCEEDED",
			Message: msg,
		})
		return nil, errors.WithHint(ErrQuotaExceeded, msg)
	}
	if err != nil {
		return nil, err
	}
	return article, nil
}

// RegenerateBrainstorm reruns stage 1 for one provider. It never joins or
// re-arms an auto-chain batch.
func (o *Orchestrator) RegenerateBrainstorm(ctx context.Context, principal *model.Principal, articleID string, provider model.Provider) error {
	if err := o.requireProvider(provider); err != nil {
		return err
	}
	article, err := o.loadArticle(ctx, principal, articleID)
	if err != nil {
		return err
	}

	o.publish(ctx, model.BaseTopic(article.StreamBase), model.Event{
		Type:      model.EventTypeRegenerationStarted,
		ArticleID: article.ID,
		Stage:     model.StageBrainstorm,
		Provider:  provider,
	})

	prompt := BrainstormPrompt(article.Transcript, article.ThinkingFramework)
	return o.dispatch(ctx, article, model.StageBrainstorm, provider, provider, "", "", prompt)
}

// GenerateAllDrafts dispatches a draft for every provider with brainstorm content
func (o *Orchestrator) GenerateAllDrafts(ctx context.Context, principal *model.Principal, articleID string, style model.WritingStyle) ([]model.Provider, error) {
	article, err := o.loadArticle(ctx, principal, articleID)
	if err != nil {
		return nil, err
	}
	return o.generateAllDrafts(ctx, article, style)
}

func (o *Orchestrator) generateAllDrafts(ctx context.Context, article *model.Article, style model.WritingStyle) ([]model.Provider, error) {
	style, err := o.rememberStyle(ctx, article, style)
	if err != nil {
		return nil, err
	}

	var eligible []model.Provider
	for _, p := range model.Roster {
		if _, ok := o.registry.Get(p); !ok {
			continue
		}
		if article.BrainstormContent(p) != "" {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil, errors.WithHint(ErrMissingPrerequisite, "还没有可用的头脑风暴内容")
	}

	o.publish(ctx, model.BaseTopic(article.StreamBase), model.Event{
		Type:      model.EventTypeAllDraftsStarted,
		ArticleID: article.ID,
		Stage:     model.StageDraft,
		Providers: eligible,
	})

	dispatched := make([]model.Provider, 0, len(eligible))
	for _, p := range eligible {
		system, prompt := DraftPrompt(article.Transcript, article.BrainstormContent(p), style)
		if err := o.dispatch(ctx, article, model.StageDraft, p, p, "", system, prompt); err != nil {
			o.logger.Error("Failed to dispatch draft",
				zap.String("article_id", article.ID), zap.String("provider", string(p)), zap.Error(err))
			continue
		}
		dispatched = append(dispatched, p)
	}
	return dispatched, nil
}

// RegenerateDraft reruns stage 2 for one provider
func (o *Orchestrator) RegenerateDraft(ctx context.Context, principal *model.Principal, articleID string, provider model.Provider, style model.WritingStyle) error {
	if err := o.requireProvider(provider); err != nil {
		return err
	}
	article, err := o.loadArticle(ctx, principal, articleID)
	if err != nil {
		return err
	}

	brainstorm := article.BrainstormContent(provider)
	if brainstorm == "" {
		o.logger.Info("Draft regeneration rejected: no brainstorm content",
			zap.String("article_id", article.ID), zap.String("provider", string(provider)))
		return errors.WithHint(ErrMissingPrerequisite, o.registry.DisplayName(provider)+" 还没有头脑风暴内容")
	}

	style, err = o.rememberStyle(ctx, article, style)
	if err != nil {
		return err
	}

	o.publish(ctx, model.BaseTopic(article.StreamBase), model.Event{
		Type:      model.EventTypeDraftRegenerationStarted,
		ArticleID: article.ID,
		Stage:     model.StageDraft,
		Provider:  provider,
	})

	system, prompt := DraftPrompt(article.Transcript, brainstorm, style)
	return o.dispatch(ctx, article, model.StageDraft, provider, provider, "", system, prompt)
}

// GenerateSingleDraft fuses the transcript with the selected provider's
// brainstorm into the single "draft" slot
func (o *Orchestrator) GenerateSingleDraft(ctx context.Context, principal *model.Principal, articleID string, selected model.Provider) error {
	if err := o.requireProvider(selected); err != nil {
		return err
	}
	if _, ok := o.registry.Get(o.fusion); !ok {
		return errors.WithHint(ErrUnknownProvider, "融合模型未配置")
	}
	article, err := o.loadArticle(ctx, principal, articleID)
	if err != nil {
		return err
	}

	brainstorm := article.BrainstormContent(selected)
	if brainstorm == "" {
		return errors.WithHint(ErrMissingPrerequisite, o.registry.DisplayName(selected)+" 还没有头脑风暴内容")
	}
	if err := o.articles.SelectProvider(ctx, article.ID, selected); err != nil {
		return err
	}

	system, prompt := FusionPrompt(article.Transcript, brainstorm)
	return o.dispatch(ctx, article, model.StageFusion, model.ProviderDraft, o.fusion, "", system, prompt)
}

// OnBrainstormTerminal is called once per brainstorm task of a batch when it
// completes, fails or is superseded. The last one starts the drafts.
func (o *Orchestrator) OnBrainstormTerminal(ctx context.Context, articleID, batchID string, provider model.Provider) error {
	if batchID == "" {
		return nil
	}
	fired, err := o.barrier.Done(ctx, articleID, batchID, provider)
	if err != nil || !fired {
		return err
	}

	article, err := o.articles.Get(ctx, articleID)
	if err != nil {
		return err
	}
	if !article.AutoDraft {
		return nil
	}

	o.metrics.RecordAutoChain()
	dispatched, err := o.generateAllDrafts(ctx, article, article.WritingStyle)
	if errors.Is(err, ErrMissingPrerequisite) {
		o.logger.Info("Auto-chain skipped: every brainstorm failed", zap.String("article_id", articleID))
		return nil
	}
	if err != nil {
		return err
	}

	o.logger.Info("Auto-chained drafts",
		zap.String("article_id", articleID),
		zap.String("batch_id", batchID),
		zap.Int("drafts", len(dispatched)))
	return nil
}

// GetArticle returns the article snapshot
func (o *Orchestrator) GetArticle(ctx context.Context, principal *model.Principal, articleID string) (*model.Article, error) {
	return o.loadArticle(ctx, principal, articleID)
}

// SelectProvider records the brainstorm chosen for the single fused draft
func (o *Orchestrator) SelectProvider(ctx context.Context, principal *model.Principal, articleID string, provider model.Provider) error {
	if _, err := model.ParseProvider(string(provider)); err != nil {
		return errors.WithHint(ErrUnknownProvider, err.Error())
	}
	if _, err := o.loadArticle(ctx, principal, articleID); err != nil {
		return err
	}
	return o.articles.SelectProvider(ctx, articleID, provider)
}

// UpdateFinalContent stores the user's edited article
func (o *Orchestrator) UpdateFinalContent(ctx context.Context, principal *model.Principal, articleID, content string) error {
	if _, err := o.loadArticle(ctx, principal, articleID); err != nil {
		return err
	}
	return o.articles.UpdateFinalContent(ctx, articleID, content)
}

// dispatch moves (stage, slot) to pending under a new generation and
// enqueues the task. A failure on either step is terminal for that slot so
// the result never stays pending and a batch barrier is never left waiting.
func (o *Orchestrator) dispatch(ctx context.Context, article *model.Article, stage model.Stage, slot, backend model.Provider, batchID, system, prompt string) error {
	sc := o.stages.For(stage)
	payload := &model.GenerationPayload{
		ArticleID:         article.ID,
		StreamBase:        article.StreamBase,
		Stage:             stage,
		Provider:          slot,
		Backend:           backend,
		BatchID:           batchID,
		Prompt:            prompt,
		SystemInstruction: system,
		Temperature:       sc.Temperature,
		MaxTokens:         sc.MaxTokens,
		Timeout:           sc.Timeout,
		Streaming:         sc.Streaming,
	}

	generation, err := o.articles.BeginGeneration(ctx, payload.Key())
	if err != nil {
		o.abandon(ctx, payload)
		return err
	}
	payload.Generation = generation

	if err := o.dispatcher.Dispatch(ctx, payload); err != nil {
		o.abandon(ctx, payload)
		return err
	}
	return nil
}

// abandon records a task that never reached the queue as failed
func (o *Orchestrator) abandon(ctx context.Context, payload *model.GenerationPayload) {
	msg := o.registry.DisplayName(payload.Backend) + " 任务排队失败，请重试"
	if payload.Generation > 0 {
		if err := o.articles.SetError(ctx, payload.Key(), payload.Generation, msg); err != nil && !errors.Is(err, store.ErrStale) {
			o.logger.Error("Failed to record dispatch failure", zap.Error(err))
		}
	}
	o.publish(ctx, payload.Topic(), model.ErrorEvent(payload, "DISPATCH_FAILED", msg))
	if err := o.OnBrainstormTerminal(ctx, payload.ArticleID, payload.BatchID, payload.Provider); err != nil {
		o.logger.Error("Auto-chain hook failed", zap.Error(err))
	}
}

func (o *Orchestrator) loadArticle(ctx context.Context, principal *model.Principal, articleID string) (*model.Article, error) {
	article, err := o.articles.Get(ctx, articleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, err
	}
	if !article.CanAccess(principal) {
		return nil, ErrForbidden
	}
	return article, nil
}

func (o *Orchestrator) requireProvider(provider model.Provider) error {
	if _, err := model.ParseProvider(string(provider)); err != nil {
		return errors.WithHint(ErrUnknownProvider, err.Error())
	}
	if _, ok := o.registry.Get(provider); !ok {
		return errors.WithHint(ErrUnknownProvider, "模型未配置: "+string(provider))
	}
	return nil
}

// rememberStyle resolves the draft style, defaulting to the article's last
// one, and persists it for auto-chained drafts
func (o *Orchestrator) rememberStyle(ctx context.Context, article *model.Article, style model.WritingStyle) (model.WritingStyle, error) {
	if style == "" {
		style = article.WritingStyle
	}
	if style == "" {
		style = model.WritingStyleOriginal
	}
	if style != article.WritingStyle {
		if err := o.articles.UpdateWritingStyle(ctx, article.ID, style); err != nil {
			return "", err
		}
		article.WritingStyle = style
	}
	return style, nil
}

// publish is best effort; a lost event never fails a command
func (o *Orchestrator) publish(ctx context.Context, topic string, event model.Event) {
	if err := o.publisher.Publish(ctx, topic, event); err != nil {
		o.logger.Warn("Failed to publish event",
			zap.String("topic", topic), zap.String("type", event.Type), zap.Error(err))
	}
}
