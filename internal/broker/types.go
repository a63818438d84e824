package broker

import (
	"context"
	"encoding/json"
	"time"

	"fraudwatch/pkg/models"
)

type Producer interface {
	// Publish JSON-encodes value and writes it to topic under key.
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, ev models.InboundEvent) error

// DeadLetter wraps a message that could not be decoded or processed.
type DeadLetter struct {
	Payload     json.RawMessage `json:"payload,omitempty"`
	Raw         string          `json:"raw,omitempty"`
	Reason      string          `json:"reason"`
	SourceTopic string          `json:"source_topic"`
	Timestamp   time.Time       `json:"timestamp"`
}
