package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile (optional) and the environment into a Config.
// An empty configFile means environment and defaults only.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.rps", 50.0)
	viper.SetDefault("server.rate_limit.burst", 100)
	viper.SetDefault("server.rate_limit.cleanup_interval", 60)
	viper.SetDefault("server.rate_limit.max_age", 300)

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.user", "fraudwatch")
	viper.SetDefault("database.postgres.dbname", "fraudwatch")
	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.postgres.max_open_conns", 10)
	viper.SetDefault("database.postgres.max_idle_conns", 5)
	viper.SetDefault("database.postgres.conn_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.run_migrations", true)

	viper.SetDefault("broker.kafka.group_id", "fraudwatch")
	viper.SetDefault("broker.kafka.input_topic", "chat_messages")
	viper.SetDefault("broker.kafka.dlq_topic", "chat_messages_dlq")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", 200*time.Millisecond)
	viper.SetDefault("broker.kafka.retry.max_interval", 5*time.Second)
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)
	viper.SetDefault("broker.kafka.retry.max_elapsed_time", 30*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("telegram.poll_timeout", 60)
	viper.SetDefault("telegram.reply_warnings", true)
	viper.SetDefault("telegram.max_concurrent", 16)

	viper.SetDefault("rate_limit.max_per_window", 30)
	viper.SetDefault("rate_limit.window", time.Minute)
	viper.SetDefault("rate_limit.retention_factor", 2)
	viper.SetDefault("rate_limit.key", "chat")
	viper.SetDefault("rate_limit.sweep_interval", time.Minute)

	viper.SetDefault("content.max_text_length", 5000)
	viper.SetDefault("content.max_ocr_text_length", 2000)
	viper.SetDefault("content.hash_algorithm", "sha256")
	viper.SetDefault("content.dedup_scope", "global")
	viper.SetDefault("content.backend", "memory")
	viper.SetDefault("content.reservation_ttl", 2*time.Minute)
	viper.SetDefault("content.on_redis_error", "deny")

	viper.SetDefault("ocr.engine", "tesseract")
	viper.SetDefault("ocr.languages", []string{"eng", "por"})
	viper.SetDefault("ocr.timeout", 10*time.Second)
	viper.SetDefault("ocr.max_image_bytes", 10*1024*1024)
	viper.SetDefault("ocr.max_width", 4000)
	viper.SetDefault("ocr.max_height", 4000)
	viper.SetDefault("ocr.allowed_formats", []string{"jpeg", "png", "gif", "bmp", "tiff"})
	viper.SetDefault("ocr.tesseract_path", "tesseract")
	viper.SetDefault("ocr.retry.max_attempts", 2)
	viper.SetDefault("ocr.retry.initial_interval", 100*time.Millisecond)
	viper.SetDefault("ocr.retry.max_interval", time.Second)
	viper.SetDefault("ocr.retry.multiplier", 2.0)

	viper.SetDefault("fraud.threshold", 6)
	viper.SetDefault("fraud.use_defaults", true)

	viper.SetDefault("alerting.max_in_flight", 16)
	viper.SetDefault("alerting.delivery_timeout", 10*time.Second)
	viper.SetDefault("alerting.excerpt_length", 100)
	viper.SetDefault("alerting.retry.max_attempts", 3)
	viper.SetDefault("alerting.retry.initial_interval", 500*time.Millisecond)
	viper.SetDefault("alerting.retry.max_interval", 5*time.Second)
	viper.SetDefault("alerting.retry.multiplier", 2.0)
	viper.SetDefault("alerting.retry.max_elapsed_time", 30*time.Second)
	viper.SetDefault("alerting.telegram.rate_per_second", 1.0)
	viper.SetDefault("alerting.telegram.burst", 5)
	viper.SetDefault("alerting.discord.username", "fraudwatch")
	viper.SetDefault("alerting.kafka.topic", "fraud_alerts")

	viper.SetDefault("security.persist_events", true)
	viper.SetDefault("security.kafka.topic", "security_events")

	viper.SetDefault("storage.write_timeout", 5*time.Second)
	viper.SetDefault("storage.rehydrate_window", 24*time.Hour)
	viper.SetDefault("storage.rehydrate_limit", 100000)
	viper.SetDefault("storage.retry.max_attempts", 3)
	viper.SetDefault("storage.retry.initial_interval", 200*time.Millisecond)
	viper.SetDefault("storage.retry.max_interval", 2*time.Second)
	viper.SetDefault("storage.retry.multiplier", 2.0)
	viper.SetDefault("storage.retry.max_elapsed_time", 10*time.Second)

	viper.SetDefault("pipeline.workers", 8)
	viper.SetDefault("pipeline.queue_size", 256)
	viper.SetDefault("pipeline.event_timeout", 30*time.Second)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", time.Minute)
	viper.SetDefault("circuit_breaker.timeout", 30*time.Second)
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 5)

	viper.SetDefault("tracing.service_name", "fraudwatch")
	viper.SetDefault("tracing.sampler.type", "always_on")
	viper.SetDefault("tracing.sampler.param", 1.0)
}

func bindEnvVariables() {
	viper.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	viper.BindEnv("telegram.enabled", "TELEGRAM_ENABLED")

	viper.BindEnv("broker.kafka.enabled", "BROKER_KAFKA_ENABLED")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.driver", "DATABASE_DRIVER")
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST", "DB_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT", "DB_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER", "DB_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD", "DB_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME", "DB_NAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("rate_limit.max_per_window", "RATE_LIMIT_MESSAGES_PER_MINUTE")
	viper.BindEnv("content.max_text_length", "MAX_MESSAGE_LENGTH")
	viper.BindEnv("ocr.max_image_bytes", "MAX_IMAGE_SIZE")

	viper.BindEnv("alerting.discord.webhook_token", "DISCORD_WEBHOOK_TOKEN")
	viper.BindEnv("alerting.webhook.url", "ALERT_WEBHOOK_URL")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv); len(brokers) > 0 {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if ids := viper.GetString("ALLOWED_CHAT_IDS"); ids != "" {
		cfg.Access.AllowedChatIDs = splitList(ids)
	}

	if ids := viper.GetString("ALERT_RECIPIENT_CHAT_IDS"); ids != "" {
		cfg.Alerting.Telegram.RecipientChatIDs = splitList(ids)
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
