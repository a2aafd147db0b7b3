package notification

import (
	"context"
	"encoding/json"
	"time"

	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/task"
	"smallbiznis-academy/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Publisher hands events to the gateway. Delivery is fire-and-forget: failures are
// logged and never surface to the caller.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

type asynqPublisher struct {
	enqueuer task.Enqueuer
	node     *snowflake.Node
}

type PublisherParams struct {
	fx.In
	Enqueuer task.Enqueuer `optional:"true"`
	Node     *snowflake.Node
}

func NewPublisher(p PublisherParams) Publisher {
	if p.Enqueuer == nil {
		zap.L().Warn("no task enqueuer configured, notifications are dropped")
		return NopPublisher{}
	}
	return &asynqPublisher{enqueuer: p.Enqueuer, node: p.Node}
}

func (p *asynqPublisher) Publish(ctx context.Context, events ...Event) {
	log := logger.FromContext(ctx)

	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = p.node.Generate().String()
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error("failed to encode notification", zap.String("type", ev.Type.String()), zap.Error(err))
			continue
		}

		t := asynq.NewTask(taskname.NotificationDispatch, payload)
		if _, err := p.enqueuer.Enqueue(ctx, t,
			asynq.Queue(taskname.QueueLow),
			asynq.MaxRetry(5),
			asynq.TaskID(ev.ID),
		); err != nil {
			log.Warn("failed to enqueue notification",
				zap.String("type", ev.Type.String()),
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
			continue
		}

		log.Debug("notification enqueued", zap.String("type", ev.Type.String()), zap.String("event_id", ev.ID))
	}
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) {}
