package worker

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"

	"github.com/lazywriting/api/internal/client"
	"github.com/lazywriting/api/internal/model"
)

// shouldRetry applies the per-class retry budget. attempt counts retries
// already made.
func (w *GenerationWorker) shouldRetry(err error, attempt int) bool {
	switch client.Classify(err) {
	case client.ClassTransient:
		return attempt < w.retry.TransientAttempts
	case client.ClassUpstream:
		return attempt < w.retry.UpstreamAttempts
	default:
		return false
	}
}

// RetryDelay is the asynq RetryDelayFunc for generation tasks
func (w *GenerationWorker) RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	switch client.Classify(err) {
	case client.ClassTransient:
		return w.retry.TransientDelay
	case client.ClassUpstream:
		return w.retry.UpstreamDelay
	default:
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
}

// errStorage marks failures to persist a result
var errStorage = errors.New("result storage unavailable")

func errorCode(err error) string {
	if errors.Is(err, errStorage) {
		return "STORAGE_ERROR"
	}
	switch client.Classify(err) {
	case client.ClassTransient:
		return "TIMEOUT"
	case client.ClassUpstream:
		return "UPSTREAM_ERROR"
	}
	var cfgErr *client.ConfigurationError
	if errors.As(err, &cfgErr) {
		return "CONFIGURATION_ERROR"
	}
	return "API_ERROR"
}

// FailureMessage is the user-facing text of a terminal failure. It names the
// provider so the user can retry just that unit.
func FailureMessage(displayName string, stage model.Stage, err error) string {
	var reason string
	switch errorCode(err) {
	case "TIMEOUT":
		reason = "请求超时，请稍后重试"
	case "UPSTREAM_ERROR":
		reason = "服务暂时不可用，请稍后重试"
	case "CONFIGURATION_ERROR":
		reason = "服务未正确配置，请联系管理员"
	case "STORAGE_ERROR":
		reason = "结果保存失败，请重试"
	default:
		reason = "请求被拒绝，请重试"
	}

	msg := displayName + " 生成失败：" + reason
	if stage != model.StageBrainstorm {
		msg += "（上方的头脑风暴内容不受影响）"
	}
	return msg
}
