package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"

	"github.com/lazywriting/api/internal/model"
)

const TaskTypeGeneration = "generation:run"

// Dispatcher schedules a generation task without waiting for it
type Dispatcher interface {
	Dispatch(ctx context.Context, payload *model.GenerationPayload) error
}

// AsynqDispatcher enqueues generation tasks on the stage's queue
type AsynqDispatcher struct {
	client   *asynq.Client
	maxRetry int
}

// NewAsynqDispatcher creates a dispatcher. maxRetry caps retries across all
// error classes; the worker enforces the per-class limits below it.
func NewAsynqDispatcher(client *asynq.Client, maxRetry int) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, maxRetry: maxRetry}
}

// NewGenerationTask wraps a payload in an asynq task
func NewGenerationTask(payload *model.GenerationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}
	return asynq.NewTask(TaskTypeGeneration, data), nil
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, payload *model.GenerationPayload) error {
	task, err := NewGenerationTask(payload)
	if err != nil {
		return err
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(model.QueueFor(payload.Stage)),
		asynq.MaxRetry(d.maxRetry),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return errors.Wrap(err, "failed to enqueue task")
	}
	return nil
}
