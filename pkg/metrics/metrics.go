package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PipelineEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_total",
			Help: "Total number of inbound events by terminal outcome (count)",
		},
		[]string{"status", "reason"},
	)

	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_ms",
			Help:    "Duration of individual pipeline stages in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"stage"},
	)

	PipelineQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_size",
			Help: "Current number of events waiting for a worker (count)",
		},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate limit decisions (count)",
		},
		[]string{"result"},
	)

	RateLimitTrackedOrigins = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_tracked_origins",
			Help: "Number of origins with a live rate window (count)",
		},
	)

	DedupDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_decisions_total",
			Help: "Total number of dedup reservations by result (count)",
		},
		[]string{"result"},
	)

	DedupIndexSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_index_size",
			Help: "Approximate number of fingerprints held by the dedup index (count)",
		},
	)

	OCRRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_requests_total",
			Help: "Total number of OCR extractions by status (count)",
		},
		[]string{"status"},
	)

	FraudRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_rule_matches_total",
			Help: "Total number of fraud rule matches (count)",
		},
		[]string{"rule_id"},
	)

	FraudVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_verdicts_total",
			Help: "Total number of fraud verdicts (count)",
		},
		[]string{"flagged"},
	)

	FraudActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fraud_active_rules",
			Help: "Number of compiled fraud rules (count)",
		},
	)

	AlertDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_deliveries_total",
			Help: "Total number of alert deliveries per notifier (count)",
		},
		[]string{"notifier", "status"},
	)

	SecurityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Total number of security events recorded (count)",
		},
		[]string{"type"},
	)

	StorageWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_writes_total",
			Help: "Total number of message record writes by result (count)",
		},
		[]string{"result"},
	)

	StorageWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storage_write_duration_ms",
			Help:    "Duration of message record writes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"boundary"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	HTTPRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_requests_total",
			Help: "Total number of HTTP API requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PipelineEventsTotal,
			PipelineStageDuration,
			PipelineQueueSize,
			RateLimitDecisionsTotal,
			RateLimitTrackedOrigins,
			DedupDecisionsTotal,
			DedupIndexSize,
			OCRRequestsTotal,
			FraudRuleMatchesTotal,
			FraudVerdictsTotal,
			FraudActiveRules,
			AlertDeliveriesTotal,
			SecurityEventsTotal,
			StorageWritesTotal,
			StorageWriteDuration,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			HTTPRateLimitedTotal,
			FallbackUsageTotal,
		)
	})
}

func ObserveStage(stage string, duration time.Duration) {
	PipelineStageDuration.WithLabelValues(stage).Observe(float64(duration.Milliseconds()))
}

func IncOutcome(status, reason string) {
	PipelineEventsTotal.WithLabelValues(status, reason).Inc()
}

func IncRuleMatch(ruleID string) {
	FraudRuleMatchesTotal.WithLabelValues(ruleID).Inc()
}

func IncSecurityEvent(eventType string) {
	SecurityEventsTotal.WithLabelValues(eventType).Inc()
}

func IncAlertDelivery(notifier, status string) {
	AlertDeliveriesTotal.WithLabelValues(notifier, status).Inc()
}

func IncRetry(boundary string) {
	RetryAttemptsTotal.WithLabelValues(boundary).Inc()
}

func ObserveStorageWrite(duration time.Duration, result string) {
	StorageWritesTotal.WithLabelValues(result).Inc()
	StorageWriteDuration.Observe(float64(duration.Milliseconds()))
}

func SetDedupIndexSize(size int) {
	DedupIndexSize.Set(float64(size))
}

func SetTrackedOrigins(n int) {
	RateLimitTrackedOrigins.Set(float64(n))
}

func SetActiveRules(n int) {
	FraudActiveRules.Set(float64(n))
}
