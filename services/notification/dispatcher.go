package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/logger"
	"smallbiznis-academy/pkg/taskname"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sink is the external notification gateway.
type Sink interface {
	Deliver(ctx context.Context, ev Event, payload []byte) error
}

// Dispatcher consumes notification:dispatch tasks and hands them to the sink.
// A failed delivery is retried by asynq.
type Dispatcher struct {
	sink Sink
}

func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink}
}

func (d *Dispatcher) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
	}
	if ev.Type.String() == "" {
		return fmt.Errorf("unknown notification type %q: %w", ev.Type, asynq.SkipRetry)
	}

	if err := d.sink.Deliver(ctx, ev, t.Payload()); err != nil {
		logger.FromContext(ctx).Warn("notification delivery failed",
			zap.String("type", ev.Type.String()),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, d *Dispatcher) {
	mux.HandleFunc(taskname.NotificationDispatch, d.ProcessTask)
}

// LogSink writes events to the log when no gateway is configured.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, ev Event, _ []byte) error {
	logger.FromContext(ctx).Info("notification",
		zap.String("type", ev.Type.String()),
		zap.String("event_id", ev.ID),
		zap.String("enrollment_id", ev.EnrollmentID),
		zap.String("company_id", ev.CompanyID),
	)
	return nil
}

// KafkaSink produces each event to the gateway topic, keyed by event id.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

func (k *KafkaSink) Deliver(ctx context.Context, ev Event, payload []byte) error {
	delivered := make(chan kafka.Event, 1)
	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.ID),
		Value:          payload,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(ev.Type.String())}},
	}, delivered)
	if err != nil {
		return err
	}

	select {
	case e := <-delivered:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return m.TopicPartition.Error
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewSink connects to NOTIFICATION.BROKERS, or logs events when none are set.
func NewSink(lc fx.Lifecycle, cfg *config.Config) (Sink, error) {
	if cfg.Notification.Brokers == "" {
		zap.L().Info("no notification brokers configured, events are logged")
		return LogSink{}, nil
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Notification.Brokers,
		"client.id":          cfg.AppName,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			producer.Flush(5000)
			producer.Close()
			return nil
		},
	})
	return &KafkaSink{producer: producer, topic: cfg.Notification.Topic}, nil
}
