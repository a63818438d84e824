package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateDatabase(c.Database, c.Content) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateTelegram(c.Telegram) },
		func(c *Config) error { return validateAccess(c.Access) },
		func(c *Config) error { return validateRateLimit(c.RateLimit) },
		func(c *Config) error { return validateContent(c.Content) },
		func(c *Config) error { return validateOCR(c.OCR) },
		func(c *Config) error { return validateFraud(c.Fraud) },
		func(c *Config) error { return validateAlerting(c.Alerting, c.Telegram, c.Broker) },
		func(c *Config) error { return validatePipeline(c.Pipeline) },
		func(c *Config) error { return validateReservation(c.Content, c.Pipeline) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		return &ValidationError{
			Field:   "server.rate_limit",
			Message: "rps and burst must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig, content ContentConfig) error {
	switch cfg.Driver {
	case "postgres":
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	case "memory":
	default:
		return &ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unknown database driver: %s (supported: postgres, memory)", cfg.Driver),
		}
	}

	if content.Backend == "redis" {
		return validateRedis(cfg.Redis)
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required when content.backend is redis",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return validateKafka(cfg.Kafka)
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.InputTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.input_topic",
			Message: "input topic is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   field + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 || cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   field,
			Message: "intervals must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}

func validateTelegram(cfg TelegramConfig) error {
	if cfg.Enabled && cfg.Token == "" {
		return &ValidationError{
			Field:   "telegram.token",
			Message: "bot token is required when telegram is enabled (TELEGRAM_BOT_TOKEN)",
		}
	}
	if cfg.Enabled && cfg.MaxConcurrent < 1 {
		return &ValidationError{Field: "telegram.max_concurrent", Message: "max_concurrent must be at least 1"}
	}
	return nil
}

func validateAccess(cfg AccessConfig) error {
	for i, id := range cfg.AllowedChatIDs {
		if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("access.allowed_chat_ids[%d]", i),
				Message: fmt.Sprintf("chat id must be a signed integer, got %q", id),
			}
		}
	}
	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if cfg.MaxPerWindow < 1 {
		return &ValidationError{
			Field:   "rate_limit.max_per_window",
			Message: "max_per_window must be at least 1",
		}
	}

	if cfg.Window <= 0 {
		return &ValidationError{
			Field:   "rate_limit.window",
			Message: "window must be positive",
		}
	}

	if cfg.RetentionFactor < 1 {
		return &ValidationError{
			Field:   "rate_limit.retention_factor",
			Message: "retention_factor must be at least 1",
		}
	}

	if cfg.Key != "chat" && cfg.Key != "chat_user" {
		return &ValidationError{
			Field:   "rate_limit.key",
			Message: fmt.Sprintf("invalid key: %s (valid: chat, chat_user)", cfg.Key),
		}
	}

	return nil
}

func validateContent(cfg ContentConfig) error {
	if cfg.MaxTextLength < 1 || cfg.MaxOCRTextLength < 1 {
		return &ValidationError{
			Field:   "content.max_text_length",
			Message: "text length limits must be positive",
		}
	}

	validAlgorithms := map[string]bool{"sha256": true, "sha512": true}
	if !validAlgorithms[strings.ToLower(cfg.HashAlgorithm)] {
		return &ValidationError{
			Field:   "content.hash_algorithm",
			Message: fmt.Sprintf("invalid hash algorithm: %s (valid: sha256, sha512)", cfg.HashAlgorithm),
		}
	}

	if cfg.DedupScope != "global" && cfg.DedupScope != "chat" {
		return &ValidationError{
			Field:   "content.dedup_scope",
			Message: fmt.Sprintf("invalid dedup scope: %s (valid: global, chat)", cfg.DedupScope),
		}
	}

	if cfg.Backend != "memory" && cfg.Backend != "redis" {
		return &ValidationError{
			Field:   "content.backend",
			Message: fmt.Sprintf("invalid dedup backend: %s (valid: memory, redis)", cfg.Backend),
		}
	}

	if cfg.ReservationTTL <= 0 || cfg.TTL < 0 {
		return &ValidationError{
			Field:   "content.reservation_ttl",
			Message: "reservation_ttl must be positive and ttl non-negative",
		}
	}

	if cfg.OnRedisError != "allow" && cfg.OnRedisError != "deny" {
		return &ValidationError{
			Field:   "content.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny)", cfg.OnRedisError),
		}
	}

	return nil
}

func validateOCR(cfg OCRConfig) error {
	switch cfg.Engine {
	case "tesseract":
		if cfg.TesseractPath == "" {
			return &ValidationError{Field: "ocr.tesseract_path", Message: "tesseract path is required"}
		}
	case "http":
		if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
			return &ValidationError{Field: "ocr.endpoint", Message: fmt.Sprintf("invalid endpoint: %v", err)}
		}
	case "none":
	default:
		return &ValidationError{
			Field:   "ocr.engine",
			Message: fmt.Sprintf("unknown OCR engine: %s (supported: tesseract, http, none)", cfg.Engine),
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{Field: "ocr.timeout", Message: "timeout must be positive"}
	}

	if cfg.MaxImageBytes <= 0 || cfg.MaxWidth <= 0 || cfg.MaxHeight <= 0 {
		return &ValidationError{Field: "ocr.max_image_bytes", Message: "image limits must be positive"}
	}

	if len(cfg.Languages) == 0 {
		return &ValidationError{Field: "ocr.languages", Message: "at least one language is required"}
	}

	return validateRetry("ocr.retry", cfg.Retry)
}

func validateFraud(cfg FraudConfig) error {
	if cfg.Threshold < 1 {
		return &ValidationError{
			Field:   "fraud.threshold",
			Message: "threshold must be at least 1",
		}
	}
	return nil
}

func validateAlerting(cfg AlertingConfig, tg TelegramConfig, broker BrokerConfig) error {
	if cfg.MaxInFlight < 1 {
		return &ValidationError{Field: "alerting.max_in_flight", Message: "max_in_flight must be at least 1"}
	}

	if cfg.DeliveryTimeout <= 0 {
		return &ValidationError{Field: "alerting.delivery_timeout", Message: "delivery_timeout must be positive"}
	}

	if cfg.Telegram.Enabled {
		if tg.Token == "" {
			return &ValidationError{Field: "alerting.telegram", Message: "telegram alerts require telegram.token"}
		}
		if len(cfg.Telegram.RecipientChatIDs) == 0 && !cfg.Telegram.WarnOrigin {
			return &ValidationError{Field: "alerting.telegram.recipient_chat_ids", Message: "at least one recipient or warn_origin is required"}
		}
	}

	if cfg.Webhook.Enabled {
		if _, err := url.ParseRequestURI(cfg.Webhook.URL); err != nil {
			return &ValidationError{Field: "alerting.webhook.url", Message: fmt.Sprintf("invalid url: %v", err)}
		}
	}

	if cfg.Discord.Enabled && (cfg.Discord.WebhookID == "" || cfg.Discord.WebhookToken == "") {
		return &ValidationError{Field: "alerting.discord", Message: "webhook_id and webhook_token are required"}
	}

	if cfg.Kafka.Enabled && len(broker.Kafka.Brokers) == 0 {
		return &ValidationError{Field: "alerting.kafka", Message: "kafka alerts require broker.kafka.brokers"}
	}

	return validateRetry("alerting.retry", cfg.Retry)
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{Field: "pipeline.workers", Message: "workers must be at least 1"}
	}

	if cfg.QueueSize < 0 {
		return &ValidationError{Field: "pipeline.queue_size", Message: "queue_size must be non-negative"}
	}

	if cfg.EventTimeout <= 0 {
		return &ValidationError{Field: "pipeline.event_timeout", Message: "event_timeout must be positive"}
	}

	return nil
}

// A reservation must outlive the event that holds it, otherwise a second
// worker can reserve the same fingerprint while the first is still running.
func validateReservation(content ContentConfig, pipeline PipelineConfig) error {
	if content.ReservationTTL > 0 && pipeline.EventTimeout > 0 && content.ReservationTTL <= pipeline.EventTimeout {
		return &ValidationError{
			Field: "content.reservation_ttl",
			Message: fmt.Sprintf("reservation_ttl (%s) must be greater than pipeline.event_timeout (%s)",
				content.ReservationTTL, pipeline.EventTimeout),
		}
	}
	return nil
}
