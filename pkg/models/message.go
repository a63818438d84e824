package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

func (k Kind) Valid() bool {
	return k == KindText || k == KindImage
}

type ContentSource string

const (
	SourceText ContentSource = "text"
	SourceOCR  ContentSource = "ocr"
)

// InboundEvent is one received chat message. It is never persisted directly.
type InboundEvent struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         Kind      `json:"kind"`
	Text         string    `json:"text,omitempty"`
	Image        []byte    `json:"image,omitempty"` // base64 in JSON
	DeclaredSize int64     `json:"declared_size,omitempty"`
	Source       string    `json:"source,omitempty"`
}

// UserLabel is the user rendering used in security log lines.
func (e InboundEvent) UserLabel() string {
	if e.Username != "" {
		return e.Username
	}
	if e.UserID != "" {
		return e.UserID
	}
	return "unknown"
}

// PayloadSize returns the larger of the declared and actual image size.
func (e InboundEvent) PayloadSize() int64 {
	size := int64(len(e.Image))
	if e.DeclaredSize > size {
		return e.DeclaredSize
	}
	return size
}

var (
	ErrMissingChatID = errors.New("chat_id is required")
	ErrUnknownKind   = errors.New("unknown payload kind")
	ErrZeroTimestamp = errors.New("timestamp is required")
)

func ValidateInboundEvent(e InboundEvent) error {
	if strings.TrimSpace(e.ChatID) == "" {
		return ErrMissingChatID
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

type NormalizedContent struct {
	Canonical   string        `json:"canonical"`
	MatchText   string        `json:"-"`
	Fingerprint string        `json:"fingerprint"`
	Source      ContentSource `json:"source"`
}

type FraudVerdict struct {
	MatchedRules []string `json:"matched_rules"`
	Score        int      `json:"score"`
	Flagged      bool     `json:"flagged"`
	Critical     bool     `json:"critical"`
}

// MessageRecord is append-only; fingerprint is the unique key.
type MessageRecord struct {
	Fingerprint string       `json:"fingerprint"`
	ChatID      string       `json:"chat_id"`
	UserID      string       `json:"user_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Content     string       `json:"content"`
	Kind        Kind         `json:"kind"`
	Verdict     FraudVerdict `json:"verdict"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Alert struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	MatchedRules []string  `json:"matched_rules"`
	Severity     int       `json:"severity"`
	Critical     bool      `json:"critical"`
	Excerpt      string    `json:"excerpt"`
	CreatedAt    time.Time `json:"created_at"`
}

// ParseChatID reports whether id is a signed integer chat identifier.
func ParseChatID(id string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", id, err)
	}
	return v, nil
}
