package alerting

import (
	"context"

	"fraudwatch/internal/broker"
	"fraudwatch/pkg/models"
)

// KafkaNotifier publishes alerts for downstream consumers.
type KafkaNotifier struct {
	producer broker.Producer
	topic    string
}

func NewKafkaNotifier(producer broker.Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Notify(ctx context.Context, alert models.Alert) error {
	return k.producer.Publish(ctx, k.topic, alert.ChatID, alert)
}
