package broker

import (
	"fmt"

	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
)

func NewProducer(cfg config.KafkaConfig, log logger.Logger) (Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer requires at least one broker")
	}
	return NewKafkaProducer(cfg, log), nil
}

func NewConsumer(cfg config.KafkaConfig, log logger.Logger) (Consumer, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("kafka consumer is disabled")
	}
	if len(cfg.Brokers) == 0 || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer requires brokers and a group id")
	}
	return NewKafkaConsumer(cfg, log), nil
}
