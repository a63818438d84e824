//go:build integration

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/retry"
)

func setupKafka(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("fraudwatch-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

func readOne(t *testing.T, brokers []string, topic string) kafka.Message {
	t.Helper()
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: "reader-" + topic})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m, err := r.ReadMessage(ctx)
	require.NoError(t, err)
	return m
}

func TestKafka_ConsumeAndDeadLetter(t *testing.T) {
	brokers := setupKafka(t)
	cfg := config.KafkaConfig{
		Enabled:    true,
		Brokers:    brokers,
		GroupID:    "fraudwatch-test",
		InputTopic: "chat_messages",
		DLQTopic:   "chat_messages_dlq",
		Retry:      config.RetryConfig{MaxAttempts: 2, InitialInterval: 10 * time.Millisecond},
	}
	log := logger.NopLogger()

	producer := NewKafkaProducer(cfg, log)
	defer producer.Close()

	ctx := context.Background()
	good := models.InboundEvent{ID: "e1", ChatID: "100", Kind: models.KindText, Text: "hello", Timestamp: time.Now()}
	require.NoError(t, producer.Publish(ctx, cfg.InputTopic, good.ChatID, good))
	require.NoError(t, producer.Publish(ctx, cfg.InputTopic, "bad", map[string]string{"kind": "video"}))
	poison := models.InboundEvent{ID: "e2", ChatID: "100", Kind: models.KindText, Text: "poison", Timestamp: time.Now()}
	require.NoError(t, producer.Publish(ctx, cfg.InputTopic, poison.ChatID, poison))

	consumer := NewKafkaConsumer(cfg, log)
	received := make(chan models.InboundEvent, 10)
	consumeCtx, cancel := context.WithCancel(ctx)
	go consumer.Consume(consumeCtx, cfg.InputTopic, func(_ context.Context, ev models.InboundEvent) error {
		if ev.Text == "poison" {
			return retry.NewFatalError(errors.New("cannot process"))
		}
		received <- ev
		return nil
	})

	select {
	case ev := <-received:
		assert.Equal(t, "e1", ev.ID)
		assert.Equal(t, "kafka", ev.Source)
	case <-time.After(60 * time.Second):
		t.Fatal("event not consumed")
	}

	first := readOne(t, brokers, cfg.DLQTopic)
	var dl DeadLetter
	require.NoError(t, json.Unmarshal(first.Value, &dl))
	assert.Equal(t, cfg.InputTopic, dl.SourceTopic)
	assert.NotEmpty(t, dl.Raw, "undecodable payload is kept raw")

	cancel()
	require.NoError(t, consumer.Close())
}
