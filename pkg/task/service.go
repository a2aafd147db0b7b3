package task

import (
	"context"
	"errors"
	"fmt"

	"smallbiznis-academy/pkg/taskname"

	"github.com/hibiken/asynq"
)

// ErrDuplicate is returned when a task with the same unique key or id is already queued.
var ErrDuplicate = errors.New("task already queued")

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuer struct {
	client   *asynq.Client
	defaults []asynq.Option
}

// NewEnqueuer wraps the asynq client. Tasks land on the default queue unless the
// caller passes its own asynq.Queue option.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuer{
		client:   client,
		defaults: []asynq.Option{asynq.Queue(taskname.QueueDefault)},
	}
}

func (e *enqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	// later options win in asynq, so defaults go first
	all := append(append([]asynq.Option{}, e.defaults...), opts...)

	info, err := e.client.EnqueueContext(ctx, task, all...)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask), errors.Is(err, asynq.ErrTaskIDConflict):
		return nil, fmt.Errorf("%s: %w", task.Type(), ErrDuplicate)
	case err != nil:
		return nil, fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}
