package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"fraudwatch/internal/config"
	"fraudwatch/pkg/models"
)

// MemoryStore keeps everything in process. It backs database.driver=memory
// and the package tests of callers.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]models.MessageRecord
	events   []models.SecurityEvent
	rules    []config.RuleConfig
}

func NewMemoryStore(rules ...config.RuleConfig) *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]models.MessageRecord),
		rules:    rules,
	}
}

func (s *MemoryStore) UpsertIfAbsent(ctx context.Context, rec models.MessageRecord) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[rec.Fingerprint]; ok {
		return AlreadyExisted, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.messages[rec.Fingerprint] = rec
	return Created, nil
}

func (s *MemoryStore) Exists(_ context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[fingerprint]
	return ok, nil
}

func (s *MemoryStore) RecentFingerprints(_ context.Context, since time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	recs := make([]models.MessageRecord, 0, len(s.messages))
	for _, rec := range s.messages {
		if !rec.CreatedAt.Before(since) {
			recs = append(recs, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	fps := make([]string, len(recs))
	for i, rec := range recs {
		fps[i] = rec.Fingerprint
	}
	return fps, nil
}

func (s *MemoryStore) AppendSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadRules(context.Context) ([]config.RuleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]config.RuleConfig(nil), s.rules...), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Messages returns a snapshot of the stored records.
func (s *MemoryStore) Messages() []models.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MessageRecord, 0, len(s.messages))
	for _, rec := range s.messages {
		out = append(out, rec)
	}
	return out
}

// SecurityEvents returns a snapshot of the appended events in order.
func (s *MemoryStore) SecurityEvents() []models.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SecurityEvent(nil), s.events...)
}
