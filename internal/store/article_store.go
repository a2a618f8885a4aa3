package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lazywriting/api/internal/model"
)

// ArticleStore persists articles and their per-(stage, provider) results.
// Result writes are single-row updates keyed by (article, stage, provider),
// so concurrent provider tasks never overwrite each other.
type ArticleStore struct {
	db *gorm.DB
}

func NewArticleStore(db *gorm.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// Create inserts a new article. When chargeUserID is set, one unit of that
// user's allowance is consumed in the same transaction; an exhausted
// allowance aborts the insert with ErrAllowanceExhausted.
func (s *ArticleStore) Create(ctx context.Context, article *model.Article, chargeUserID *string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if chargeUserID != nil {
			if err := decrementAllowance(tx, *chargeUserID); err != nil {
				return err
			}
		}
		if err := tx.Omit(clause.Associations).Create(article).Error; err != nil {
			return errors.Wrap(err, "failed to create article")
		}
		return nil
	})
}

// Get loads an article with all of its results
func (s *ArticleStore) Get(ctx context.Context, id string) (*model.Article, error) {
	var article model.Article
	err := s.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB {
			return db.Order("stage, provider")
		}).
		First(&article, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load article %s", id)
	}
	return &article, nil
}

// BeginGeneration moves a result to pending under a fresh generation number
// and clears its previous error. Content from earlier generations is kept
// until the new task writes its own.
func (s *ArticleStore) BeginGeneration(ctx context.Context, key model.ResultKey) (int64, error) {
	var generation int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		row := model.ArticleResult{
			ArticleID:  key.ArticleID,
			Stage:      key.Stage,
			Provider:   key.Provider,
			Status:     model.ResultStatusPending,
			Generation: 1,
			UpdatedAt:  now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "article_id"}, {Name: "stage"}, {Name: "provider"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"generation":    gorm.Expr("article_results.generation + 1"),
				"status":        model.ResultStatusPending,
				"error_message": "",
				"updated_at":    now,
			}),
		}).Create(&row).Error
		if err != nil {
			return errors.Wrap(err, "failed to begin generation")
		}

		return tx.Model(&model.ArticleResult{}).
			Where("article_id = ? AND stage = ? AND provider = ?", key.ArticleID, key.Stage, key.Provider).
			Pluck("generation", &generation).Error
	})
	if err != nil {
		return 0, err
	}
	return generation, nil
}

// SetStatus records a non-terminal status for one generation
func (s *ArticleStore) SetStatus(ctx context.Context, key model.ResultKey, generation int64, status model.ResultStatus) error {
	return s.updateResult(ctx, key, generation, map[string]interface{}{
		"status": status,
	})
}

// SetContent stores the final text and marks the result complete
func (s *ArticleStore) SetContent(ctx context.Context, key model.ResultKey, generation int64, text string) error {
	return s.updateResult(ctx, key, generation, map[string]interface{}{
		"status":        model.ResultStatusComplete,
		"content":       text,
		"error_message": "",
	})
}

// SetError marks the result failed. Content is left untouched.
func (s *ArticleStore) SetError(ctx context.Context, key model.ResultKey, generation int64, message string) error {
	return s.updateResult(ctx, key, generation, map[string]interface{}{
		"status":        model.ResultStatusError,
		"error_message": message,
	})
}

func (s *ArticleStore) updateResult(ctx context.Context, key model.ResultKey, generation int64, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.ArticleResult{}).
		Where("article_id = ? AND stage = ? AND provider = ? AND generation = ?",
			key.ArticleID, key.Stage, key.Provider, generation).
		Updates(fields)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update %s/%s result", key.Stage, key.Provider)
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// SelectProvider records the brainstorm chosen for the single fused draft
func (s *ArticleStore) SelectProvider(ctx context.Context, articleID string, provider model.Provider) error {
	return s.updateArticle(ctx, articleID, "selected_provider", provider)
}

// UpdateFinalContent replaces the user-edited final article
func (s *ArticleStore) UpdateFinalContent(ctx context.Context, articleID, text string) error {
	return s.updateArticle(ctx, articleID, "final_content", text)
}

// UpdateWritingStyle remembers the last style used for drafts
func (s *ArticleStore) UpdateWritingStyle(ctx context.Context, articleID string, style model.WritingStyle) error {
	return s.updateArticle(ctx, articleID, "writing_style", style)
}

func (s *ArticleStore) updateArticle(ctx context.Context, articleID, column string, value interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.Article{}).
		Where("id = ?", articleID).
		Update(column, value)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update article %s", column)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
