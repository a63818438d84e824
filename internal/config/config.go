package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Telegram       TelegramConfig       `mapstructure:"telegram"`
	Access         AccessConfig         `mapstructure:"access"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Content        ContentConfig        `mapstructure:"content"`
	OCR            OCRConfig            `mapstructure:"ocr"`
	Fraud          FraudConfig          `mapstructure:"fraud"`
	Alerting       AlertingConfig       `mapstructure:"alerting"`
	Security       SecurityConfig       `mapstructure:"security"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Enabled      bool            `mapstructure:"enabled"`
	Port         int             `mapstructure:"port"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    HTTPLimitConfig `mapstructure:"rate_limit"`
}

type HTTPLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type DatabaseConfig struct {
	Driver        string         `mapstructure:"driver"` // "postgres" or "memory"
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	Brokers    []string    `mapstructure:"brokers"`
	GroupID    string      `mapstructure:"group_id"`
	InputTopic string      `mapstructure:"input_topic"`
	DLQTopic   string      `mapstructure:"dlq_topic"`
	Retry      RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelegramConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Token         string `mapstructure:"token"`
	PollTimeout   int    `mapstructure:"poll_timeout"`
	ReplyWarnings bool   `mapstructure:"reply_warnings"`
	Debug         bool   `mapstructure:"debug"`
	// MaxConcurrent caps messages handled at once, downloads included.
	MaxConcurrent int64  `mapstructure:"max_concurrent"`
}

type AccessConfig struct {
	AllowedChatIDs []string `mapstructure:"allowed_chat_ids"`
	DenyWhenEmpty  bool     `mapstructure:"deny_when_empty"`
}

type RateLimitConfig struct {
	MaxPerWindow    int           `mapstructure:"max_per_window"`
	Window          time.Duration `mapstructure:"window"`
	RetentionFactor int           `mapstructure:"retention_factor"`
	Key             string        `mapstructure:"key"` // "chat" or "chat_user"
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type ContentConfig struct {
	MaxTextLength    int           `mapstructure:"max_text_length"`
	MaxOCRTextLength int           `mapstructure:"max_ocr_text_length"`
	HashAlgorithm    string        `mapstructure:"hash_algorithm"`
	DedupScope       string        `mapstructure:"dedup_scope"` // "global" or "chat"
	Backend          string        `mapstructure:"backend"`     // "memory" or "redis"
	ReservationTTL   time.Duration `mapstructure:"reservation_ttl"`
	TTL              time.Duration `mapstructure:"ttl"`
	OnRedisError     string        `mapstructure:"on_redis_error"` // "allow" or "deny"
}

type OCRConfig struct {
	Engine         string        `mapstructure:"engine"` // "tesseract", "http" or "none"
	Languages      []string      `mapstructure:"languages"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxImageBytes  int64         `mapstructure:"max_image_bytes"`
	MaxWidth       int           `mapstructure:"max_width"`
	MaxHeight      int           `mapstructure:"max_height"`
	AllowedFormats []string      `mapstructure:"allowed_formats"`
	TesseractPath  string        `mapstructure:"tesseract_path"`
	Endpoint       string        `mapstructure:"endpoint"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

type FraudConfig struct {
	Threshold        int          `mapstructure:"threshold"`
	UseDefaults      bool         `mapstructure:"use_defaults"`
	Rules            []RuleConfig `mapstructure:"rules"`
	RulesFile        string       `mapstructure:"rules_file"`
	LoadFromDatabase bool         `mapstructure:"load_from_database"`
}

// RuleConfig is the declarative form of one fraud rule, shared by the
// config file, the rules file and the fraud_rules table.
type RuleConfig struct {
	ID            string   `mapstructure:"id" yaml:"id" json:"id" validate:"required,max=128,rule_id"`
	Description   string   `mapstructure:"description" yaml:"description" json:"description"`
	Kind          string   `mapstructure:"kind" yaml:"kind" json:"kind" validate:"required,oneof=literal substring keyword_set regex expression"`
	Severity      int      `mapstructure:"severity" yaml:"severity" json:"severity" validate:"gte=0"`
	Critical      bool     `mapstructure:"critical" yaml:"critical" json:"critical"`
	CaseSensitive bool     `mapstructure:"case_sensitive" yaml:"case_sensitive" json:"case_sensitive"`
	WholeWord     *bool    `mapstructure:"whole_word" yaml:"whole_word" json:"whole_word,omitempty"`
	Patterns      []string `mapstructure:"patterns" yaml:"patterns" json:"patterns" validate:"required_unless=Kind expression,dive,required"`
	MinMatches    int      `mapstructure:"min_matches" yaml:"min_matches" json:"min_matches" validate:"gte=0"`
	Expression    string   `mapstructure:"expression" yaml:"expression" json:"expression" validate:"required_if=Kind expression"`
	Disabled      bool     `mapstructure:"disabled" yaml:"disabled" json:"disabled"`
}

type AlertingConfig struct {
	MaxInFlight     int64               `mapstructure:"max_in_flight"`
	DeliveryTimeout time.Duration       `mapstructure:"delivery_timeout"`
	ExcerptLength   int                 `mapstructure:"excerpt_length"`
	Retry           RetryConfig         `mapstructure:"retry"`
	Telegram        TelegramAlertConfig `mapstructure:"telegram"`
	Webhook         WebhookAlertConfig  `mapstructure:"webhook"`
	Discord         DiscordAlertConfig  `mapstructure:"discord"`
	Kafka           KafkaTopicConfig    `mapstructure:"kafka"`
}

type TelegramAlertConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	RecipientChatIDs []string `mapstructure:"recipient_chat_ids"`
	WarnOrigin       bool     `mapstructure:"warn_origin"`
	RatePerSecond    float64  `mapstructure:"rate_per_second"`
	Burst            int      `mapstructure:"burst"`
}

type WebhookAlertConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type DiscordAlertConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	WebhookID    string `mapstructure:"webhook_id"`
	WebhookToken string `mapstructure:"webhook_token"`
	Username     string `mapstructure:"username"`
}

type KafkaTopicConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

type SecurityConfig struct {
	PersistEvents bool             `mapstructure:"persist_events"`
	Kafka         KafkaTopicConfig `mapstructure:"kafka"`
}

type StorageConfig struct {
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	Rehydrate       bool          `mapstructure:"rehydrate"`
	RehydrateWindow time.Duration `mapstructure:"rehydrate_window"`
	RehydrateLimit  int           `mapstructure:"rehydrate_limit"`
	Retry           RetryConfig   `mapstructure:"retry"`
}

type PipelineConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	EventTimeout time.Duration `mapstructure:"event_timeout"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
