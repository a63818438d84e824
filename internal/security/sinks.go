package security

import (
	"context"

	"fraudwatch/internal/broker"
	"fraudwatch/internal/logger"
	"fraudwatch/pkg/models"
)

// LogSink writes the textual SECURITY_EVENT line at warn level.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, ev models.SecurityEvent) error {
	s.logger.WarnwCtx(ctx, ev.String(),
		"security_event_id", ev.ID,
		"security_event_type", ev.Type,
		"chat_id", ev.ChatID,
		"user", ev.UserID,
	)
	return nil
}

// Appender is satisfied by storage.Store and storage.Gateway.
type Appender interface {
	AppendSecurityEvent(ctx context.Context, ev models.SecurityEvent) error
}

// StoreSink appends events to the security_events table.
type StoreSink struct {
	store Appender
}

func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, ev models.SecurityEvent) error {
	return s.store.AppendSecurityEvent(context.WithoutCancel(ctx), ev)
}

// KafkaSink publishes events as JSON keyed by chat id.
type KafkaSink struct {
	producer broker.Producer
	topic    string
}

func NewKafkaSink(producer broker.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, ev models.SecurityEvent) error {
	return s.producer.Publish(context.WithoutCancel(ctx), s.topic, ev.ChatID, ev)
}
