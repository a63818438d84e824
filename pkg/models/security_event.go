package models

import (
	"fmt"
	"time"
)

type SecurityEventType string

const (
	SecurityUnauthorizedAccess SecurityEventType = "UNAUTHORIZED_ACCESS"
	SecurityRateLimitExceeded  SecurityEventType = "RATE_LIMIT_EXCEEDED"
	SecurityFraudDetected      SecurityEventType = "FRAUD_DETECTED"
	SecurityOversizedPayload   SecurityEventType = "OVERSIZED_PAYLOAD"
	SecurityProcessingError    SecurityEventType = "PROCESSING_ERROR"
)

type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      SecurityEventType `json:"type"`
	ChatID    string            `json:"chat_id"`
	UserID    string            `json:"user_id"`
	Details   string            `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
}

// String renders the line format consumed by log tooling.
func (e SecurityEvent) String() string {
	return fmt.Sprintf("SECURITY_EVENT: %s | Chat: %s | User: %s | Details: %s",
		e.Type, e.ChatID, e.UserID, e.Details)
}
