package model

import "time"

// Article is the user's unit of work. It aggregates every provider's output for
// both pipeline stages through its Results rows.
type Article struct {
	ID                string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID            *string           `gorm:"type:varchar(64);index" json:"userId,omitempty"`
	StreamBase        string            `gorm:"type:varchar(128);not null;index" json:"streamBase"`
	Transcript        string            `gorm:"type:text;not null" json:"transcript"`
	ThinkingFramework ThinkingFramework `gorm:"type:varchar(32);not null;default:'original'" json:"thinkingFramework"`
	WritingStyle      WritingStyle      `gorm:"type:varchar(32);not null;default:'original'" json:"writingStyle"`
	AutoDraft         bool              `gorm:"not null" json:"autoDraft"`
	SelectedProvider  *Provider         `gorm:"type:varchar(32)" json:"selectedProvider,omitempty"`
	FinalContent      string            `gorm:"type:text" json:"finalContent"`
	Results           []ArticleResult   `gorm:"foreignKey:ArticleID" json:"results"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

func (Article) TableName() string { return "articles" }

// ArticleResult holds one (stage, provider) output. Every mutation of a result
// is scoped to exactly one row, so providers never overwrite each other.
type ArticleResult struct {
	ArticleID    string       `gorm:"primaryKey;type:varchar(36)" json:"-"`
	Stage        Stage        `gorm:"primaryKey;type:varchar(16)" json:"stage"`
	Provider     Provider     `gorm:"primaryKey;type:varchar(32)" json:"provider"`
	Status       ResultStatus `gorm:"type:varchar(16);not null" json:"status"`
	Content      string       `gorm:"type:text" json:"content"`
	Generation   int64        `gorm:"not null;default:0" json:"generation"`
	ErrorMessage string       `gorm:"type:text" json:"errorMessage,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (ArticleResult) TableName() string { return "article_results" }

// Result returns the stored result for (stage, provider), or an unset placeholder
func (a *Article) Result(stage Stage, provider Provider) ArticleResult {
	for _, r := range a.Results {
		if r.Stage == stage && r.Provider == provider {
			return r
		}
	}
	return ArticleResult{ArticleID: a.ID, Stage: stage, Provider: provider, Status: ResultStatusUnset}
}

// BrainstormContent returns the brainstorm text for provider, empty if absent
func (a *Article) BrainstormContent(provider Provider) string {
	return a.Result(StageBrainstorm, provider).Content
}

// User owns articles and carries the remaining article allowance
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email     string    `gorm:"type:varchar(255);index" json:"email"`
	Allowance int       `gorm:"not null;default:0" json:"allowance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// StartAllRequest represents the request to create an article and brainstorm it
type StartAllRequest struct {
	ArticleID         string            `json:"articleId" validate:"omitempty,uuid"`
	Transcript        string            `json:"transcript" validate:"omitempty,min=10,max=20000"`
	ThinkingFramework ThinkingFramework `json:"thinkingFramework" validate:"omitempty,oneof=original first_principles six_hats counterargument structured_review"`
	WritingStyle      WritingStyle      `json:"writingStyle" validate:"omitempty,oneof=original literary colloquial argument story"`
	StreamBase        string            `json:"streamBase" validate:"omitempty,max=100"`
	ManualDraft       bool              `json:"manualDraft"`
}

// StartAllResponse tells the client which topics to subscribe to
type StartAllResponse struct {
	ArticleID  string            `json:"articleId"`
	StreamBase string            `json:"streamBase"`
	Topics     map[string]string `json:"topics"`
	Providers  []Provider        `json:"providers"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// DraftRequest carries the style for draft commands
type DraftRequest struct {
	WritingStyle WritingStyle `json:"writingStyle" validate:"omitempty,oneof=original literary colloquial argument story"`
}

// SelectProviderRequest records the brainstorm chosen for the single fused draft
type SelectProviderRequest struct {
	Provider Provider `json:"provider" validate:"required,oneof=grok qwen deepseek gemini doubao"`
}

// FusionRequest starts the single fused draft
type FusionRequest struct {
	Provider Provider `json:"provider" validate:"required,oneof=grok qwen deepseek gemini doubao"`
}

// UpdateContentRequest replaces the final edited article
type UpdateContentRequest struct {
	Content string `json:"content" validate:"max=100000"`
}

// CommandAcceptedResponse is returned by every dispatching command
type CommandAcceptedResponse struct {
	ArticleID string     `json:"articleId"`
	Stage     Stage      `json:"stage"`
	Providers []Provider `json:"providers"`
}

// ArticleResponse is the read model of an article
type ArticleResponse struct {
	Article
	FinalContentHTML string `json:"finalContentHtml,omitempty"`
}

// ExportResponse represents an exported article
type ExportResponse struct {
	MarkdownURL string    `json:"markdownUrl"`
	HTMLURL     string    `json:"htmlUrl"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ResultKey addresses exactly one ArticleResult row
type ResultKey struct {
	ArticleID string
	Stage     Stage
	Provider  Provider
}

// Principal is the authenticated caller. A nil *Principal is anonymous.
type Principal struct {
	UserID string
	Email  string
}

// CanAccess reports whether principal may read or mutate a.
// Articles without an owner are open to everyone.
func (a *Article) CanAccess(principal *Principal) bool {
	if a.UserID == nil {
		return true
	}
	return principal != nil && principal.UserID == *a.UserID
}
