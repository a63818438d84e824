package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"fraudwatch/internal/broker"
	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
)

// Base holds the Kafka clients shared by the inbound consumer, the Kafka
// notifier and the Kafka security sink.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// NeedsProducer reports whether any component publishes to Kafka.
func (b *Base) NeedsProducer() bool {
	return b.Config.Alerting.Kafka.Enabled || b.Config.Security.Kafka.Enabled
}

// InitBroker creates the producer when something publishes and the
// consumer when the inbound topic is enabled.
func (b *Base) InitBroker(serviceName string) error {
	kafkaCfg := b.Config.Broker.Kafka

	if b.NeedsProducer() {
		producer, err := broker.NewProducer(kafkaCfg, b.Logger)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}
		b.Producer = producer
	}

	if kafkaCfg.Enabled {
		consumer, err := broker.NewConsumer(kafkaCfg, b.Logger)
		if err != nil {
			b.ShutdownBroker()
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		if serviceName != "" {
			consumer.SetServiceName(serviceName)
		}
		b.Consumer = consumer
	}
	return nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
		b.Consumer = nil
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
		b.Producer = nil
	}

	return errs
}

// Shutdown runs additionalShutdown first so that components still using
// the producer can drain, then closes the Kafka clients.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}
	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
