// Package storage persists message records, security events and fraud rules.
package storage

import (
	"context"
	"time"

	"fraudwatch/internal/config"
	"fraudwatch/pkg/models"
)

type UpsertResult int

const (
	Created UpsertResult = iota
	AlreadyExisted
)

func (r UpsertResult) String() string {
	if r == Created {
		return "created"
	}
	return "already_existed"
}

// Store is the storage collaborator. UpsertIfAbsent must be idempotent on
// the record fingerprint: an existing fingerprint is AlreadyExisted, never an error.
type Store interface {
	UpsertIfAbsent(ctx context.Context, rec models.MessageRecord) (UpsertResult, error)
	Exists(ctx context.Context, fingerprint string) (bool, error)
	RecentFingerprints(ctx context.Context, since time.Time, limit int) ([]string, error)
	AppendSecurityEvent(ctx context.Context, ev models.SecurityEvent) error
	LoadRules(ctx context.Context) ([]config.RuleConfig, error)
	Ping(ctx context.Context) error
	Close() error
}
