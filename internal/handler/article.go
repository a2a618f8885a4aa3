package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lazywriting/api/internal/middleware"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/internal/service"
	"github.com/lazywriting/api/pkg/markdown"
	"github.com/lazywriting/api/pkg/response"
)

type ArticleHandler struct {
	orchestrator *service.Orchestrator
	validator    *validator.Validate
	logger       *zap.Logger
}

func NewArticleHandler(orch *service.Orchestrator, v *validator.Validate, logger *zap.Logger) *ArticleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleHandler{
		orchestrator: orch,
		validator:    v,
		logger:       logger.With(zap.String("component", "article_handler")),
	}
}

// Start handles POST /api/articles
func (h *ArticleHandler) Start(c *fiber.Ctx) error {
	var req model.StartAllRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.ArticleID == "" && req.Transcript == "" {
		return response.ValidationError(c, "Validation failed", map[string]string{"Transcript": "required"})
	}

	result, err := h.orchestrator.StartAll(c.UserContext(), middleware.GetPrincipal(c), service.StartAllCommand{
		ArticleID:         req.ArticleID,
		Transcript:        req.Transcript,
		ThinkingFramework: req.ThinkingFramework,
		WritingStyle:      req.WritingStyle,
		StreamBase:        req.StreamBase,
		AutoDraft:         !req.ManualDraft,
	})
	if err != nil {
		return h.fail(c, "start", err)
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/articles/:id
func (h *ArticleHandler) Get(c *fiber.Ctx) error {
	article, err := h.orchestrator.GetArticle(c.UserContext(), middleware.GetPrincipal(c), c.Params("id"))
	if err != nil {
		return h.fail(c, "get", err)
	}

	resp := model.ArticleResponse{Article: *article}
	if article.FinalContent != "" {
		rendered, err := markdown.ToHTML(article.FinalContent)
		if err != nil {
			h.logger.Warn("Failed to render final content", zap.String("article_id", article.ID), zap.Error(err))
		} else {
			resp.FinalContentHTML = rendered
		}
	}

	return response.OK(c, resp)
}

// RegenerateBrainstorm handles POST /api/articles/:id/brainstorms/:provider
func (h *ArticleHandler) RegenerateBrainstorm(c *fiber.Ctx) error {
	provider, err := model.ParseProvider(c.Params("provider"))
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	articleID := c.Params("id")
	if err := h.orchestrator.RegenerateBrainstorm(c.UserContext(), middleware.GetPrincipal(c), articleID, provider); err != nil {
		return h.fail(c, "regenerate brainstorm", err)
	}

	return response.Accepted(c, model.CommandAcceptedResponse{
		ArticleID: articleID,
		Stage:     model.StageBrainstorm,
		Providers: []model.Provider{provider},
	})
}

// GenerateAllDrafts handles POST /api/articles/:id/drafts
func (h *ArticleHandler) GenerateAllDrafts(c *fiber.Ctx) error {
	req, ok, err := h.parseDraftRequest(c)
	if !ok {
		return err
	}

	articleID := c.Params("id")
	providers, err := h.orchestrator.GenerateAllDrafts(c.UserContext(), middleware.GetPrincipal(c), articleID, req.WritingStyle)
	if err != nil {
		return h.fail(c, "generate drafts", err)
	}

	return response.Accepted(c, model.CommandAcceptedResponse{
		ArticleID: articleID,
		Stage:     model.StageDraft,
		Providers: providers,
	})
}

// RegenerateDraft handles POST /api/articles/:id/drafts/:provider
func (h *ArticleHandler) RegenerateDraft(c *fiber.Ctx) error {
	provider, err := model.ParseProvider(c.Params("provider"))
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}
	req, ok, err := h.parseDraftRequest(c)
	if !ok {
		return err
	}

	articleID := c.Params("id")
	if err := h.orchestrator.RegenerateDraft(c.UserContext(), middleware.GetPrincipal(c), articleID, provider, req.WritingStyle); err != nil {
		return h.fail(c, "regenerate draft", err)
	}

	return response.Accepted(c, model.CommandAcceptedResponse{
		ArticleID: articleID,
		Stage:     model.StageDraft,
		Providers: []model.Provider{provider},
	})
}

// Fusion handles POST /api/articles/:id/fusion
func (h *ArticleHandler) Fusion(c *fiber.Ctx) error {
	var req model.FusionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	articleID := c.Params("id")
	if err := h.orchestrator.GenerateSingleDraft(c.UserContext(), middleware.GetPrincipal(c), articleID, req.Provider); err != nil {
		return h.fail(c, "fusion", err)
	}

	return response.Accepted(c, model.CommandAcceptedResponse{
		ArticleID: articleID,
		Stage:     model.StageFusion,
		Providers: []model.Provider{model.ProviderDraft},
	})
}

// Select handles PUT /api/articles/:id/selection
func (h *ArticleHandler) Select(c *fiber.Ctx) error {
	var req model.SelectProviderRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.orchestrator.SelectProvider(c.UserContext(), middleware.GetPrincipal(c), c.Params("id"), req.Provider); err != nil {
		return h.fail(c, "select provider", err)
	}

	return response.NoContent(c)
}

// UpdateContent handles PUT /api/articles/:id/content
func (h *ArticleHandler) UpdateContent(c *fiber.Ctx) error {
	var req model.UpdateContentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.orchestrator.UpdateFinalContent(c.UserContext(), middleware.GetPrincipal(c), c.Params("id"), req.Content); err != nil {
		return h.fail(c, "update content", err)
	}

	return response.NoContent(c)
}

// parseDraftRequest accepts an empty body as the article's stored style.
// When ok is false the error response has already been written.
func (h *ArticleHandler) parseDraftRequest(c *fiber.Ctx) (req model.DraftRequest, ok bool, err error) {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return req, false, response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return req, false, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return req, true, nil
}

func (h *ArticleHandler) fail(c *fiber.Ctx, op string, err error) error {
	h.logger.Warn("Command rejected",
		zap.String("op", op), zap.String("article_id", c.Params("id")), zap.Error(err))
	return respondError(c, err)
}
