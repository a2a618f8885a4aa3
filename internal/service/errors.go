package service

import "github.com/cockroachdb/errors"

// Command rejections. Handlers map these to HTTP statuses; the hint, when
// present, is the message shown to the user.
var (
	ErrArticleNotFound      = errors.New("article not found")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrMissingPrerequisite  = errors.New("missing prerequisite content")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidCommand       = errors.New("invalid command")
	ErrStorageNotConfigured = errors.New("export storage not configured")
)

// UserMessage returns the hints attached to err, or fallback
func UserMessage(err error, fallback string) string {
	if hint := errors.FlattenHints(err); hint != "" {
		return hint
	}
	return fallback
}
