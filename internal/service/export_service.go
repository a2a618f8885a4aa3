package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lazywriting/api/internal/client"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/pkg/markdown"
)

const exportURLExpiry = 24 * time.Hour

// ArticleReader loads an article on behalf of a principal
type ArticleReader interface {
	GetArticle(ctx context.Context, principal *model.Principal, articleID string) (*model.Article, error)
}

// ExportService publishes the final article as markdown and HTML to object storage
type ExportService struct {
	articles ArticleReader
	storage  client.StorageClient
}

// NewExportService creates a new export service. storage may be nil when
// R2 is not configured.
func NewExportService(articles ArticleReader, storage client.StorageClient) *ExportService {
	return &ExportService{articles: articles, storage: storage}
}

// ExportContent picks what gets exported: the edited final content, or the
// fused draft when the user has not edited yet
func ExportContent(article *model.Article) string {
	if article.FinalContent != "" {
		return article.FinalContent
	}
	return article.Result(model.StageFusion, model.ProviderDraft).Content
}

// Export uploads articles/{id}.md and articles/{id}.html
func (s *ExportService) Export(ctx context.Context, principal *model.Principal, articleID string) (*model.ExportResponse, error) {
	article, err := s.articles.GetArticle(ctx, principal, articleID)
	if err != nil {
		return nil, err
	}

	content := ExportContent(article)
	if content == "" {
		return nil, errors.WithHint(ErrMissingPrerequisite, "文章还没有可导出的内容")
	}
	if s.storage == nil {
		return nil, ErrStorageNotConfigured
	}

	body, err := markdown.ToHTML(content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render markdown")
	}
	doc := markdown.Document(articleTitle(content), body)

	mdKey := fmt.Sprintf("articles/%s.md", article.ID)
	htmlKey := fmt.Sprintf("articles/%s.html", article.ID)

	if _, err := s.storage.Upload(ctx, mdKey, strings.NewReader(content), "text/markdown; charset=utf-8"); err != nil {
		return nil, err
	}
	if _, err := s.storage.Upload(ctx, htmlKey, strings.NewReader(doc), "text/html; charset=utf-8"); err != nil {
		return nil, err
	}

	mdURL, err := s.storage.GetSignedURL(ctx, mdKey, exportURLExpiry)
	if err != nil {
		return nil, err
	}
	htmlURL, err := s.storage.GetSignedURL(ctx, htmlKey, exportURLExpiry)
	if err != nil {
		return nil, err
	}

	return &model.ExportResponse{
		MarkdownURL: mdURL,
		HTMLURL:     htmlURL,
		Size:        int64(len(content) + len(doc)),
		ExpiresAt:   time.Now().Add(exportURLExpiry),
	}, nil
}

// articleTitle is the first markdown heading, or the first line
func articleTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return "未命名文章"
}
