package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "fraudwatch:dedup:"
	ImageFingerprintTag = "image:"
)

const (
	DedupStateReserved  = "reserved"
	DedupStateCommitted = "committed"
)

const (
	ShutdownTimeout = 15 * time.Second
)

const (
	DefaultExcerptLength = 100
	DefaultRuleThreshold = 6
	RateLimitShards      = 64
	DedupShards          = 64
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	DedupScopeGlobal = "global"
	DedupScopeChat   = "chat"
)

const (
	RateKeyChat     = "chat"
	RateKeyChatUser = "chat_user"
)

const (
	ServiceName = "fraudwatch"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	BackendMemory  = "memory"
	BackendRedis   = "redis"
)

const (
	OCREngineTesseract = "tesseract"
	OCREngineHTTP      = "http"
	OCREngineNone      = "none"
)
