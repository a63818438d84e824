package content

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"fraudwatch/internal/constants"
	"fraudwatch/internal/logger"
	"fraudwatch/pkg/metrics"
)

// Index is the dedup index. Reserve is an atomic check-and-insert: for
// concurrent calls with the same fingerprint exactly one returns true,
// together with a token that identifies the reservation. Release only drops
// the reservation holding that token. Commit always marks the fingerprint
// seen, since it follows a durable write.
type Index interface {
	Reserve(ctx context.Context, fingerprint string) (token string, ok bool, err error)
	Commit(ctx context.Context, fingerprint string) error
	Release(ctx context.Context, fingerprint, token string) error
	Seed(ctx context.Context, fingerprints []string) error
	Len(ctx context.Context) (int, error)
}

type entryState uint8

const (
	stateReserved entryState = iota + 1
	stateCommitted
)

type entry struct {
	state  entryState
	token  string
	seenAt time.Time
}

type indexShard struct {
	mu      sync.Mutex
	entries map[string]entry
}

type MemoryIndexConfig struct {
	// ReservationTTL reclaims reservations left behind by a worker that
	// never committed or released.
	ReservationTTL time.Duration
	// TTL expires committed entries; zero keeps them for the process lifetime.
	TTL time.Duration
}

// MemoryIndex is a sharded in-process Index.
type MemoryIndex struct {
	cfg    MemoryIndexConfig
	shards [constants.DedupShards]indexShard
	now    func() time.Time
}

func NewMemoryIndex(cfg MemoryIndexConfig) *MemoryIndex {
	idx := &MemoryIndex{cfg: cfg, now: time.Now}
	for i := range idx.shards {
		idx.shards[i].entries = make(map[string]entry)
	}
	return idx
}

func (m *MemoryIndex) Reserve(_ context.Context, fingerprint string) (string, bool, error) {
	s := m.shardFor(fingerprint)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[fingerprint]; ok && !m.expired(e, now) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.entries[fingerprint] = entry{state: stateReserved, token: token, seenAt: now}
	return token, true, nil
}

func (m *MemoryIndex) Commit(_ context.Context, fingerprint string) error {
	s := m.shardFor(fingerprint)

	s.mu.Lock()
	s.entries[fingerprint] = entry{state: stateCommitted, seenAt: m.now()}
	s.mu.Unlock()
	return nil
}

// Release drops the reservation identified by token. Committed entries and
// reservations taken over by another worker are left untouched.
func (m *MemoryIndex) Release(_ context.Context, fingerprint, token string) error {
	s := m.shardFor(fingerprint)

	s.mu.Lock()
	if e, ok := s.entries[fingerprint]; ok && e.state == stateReserved && e.token == token {
		delete(s.entries, fingerprint)
	}
	s.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Seed(_ context.Context, fingerprints []string) error {
	now := m.now()
	for _, fp := range fingerprints {
		s := m.shardFor(fp)
		s.mu.Lock()
		if _, ok := s.entries[fp]; !ok {
			s.entries[fp] = entry{state: stateCommitted, seenAt: now}
		}
		s.mu.Unlock()
	}
	return nil
}

func (m *MemoryIndex) Len(_ context.Context) (int, error) {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n, nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryIndex) Sweep() int {
	now := m.now()
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for fp, e := range s.entries {
			if m.expired(e, now) {
				delete(s.entries, fp)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps periodically and publishes the index size.
func (m *MemoryIndex) Run(ctx context.Context, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := m.Sweep()
			size, _ := m.Len(ctx)
			metrics.SetDedupIndexSize(size)
			if removed > 0 {
				log.DebugwCtx(ctx, "Dedup index swept", "removed", removed, "size", size)
			}
		}
	}
}

func (m *MemoryIndex) expired(e entry, now time.Time) bool {
	switch e.state {
	case stateReserved:
		return m.cfg.ReservationTTL > 0 && now.Sub(e.seenAt) > m.cfg.ReservationTTL
	case stateCommitted:
		return m.cfg.TTL > 0 && now.Sub(e.seenAt) > m.cfg.TTL
	}
	return true
}

func (m *MemoryIndex) shardFor(fingerprint string) *indexShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fingerprint))
	return &m.shards[h.Sum32()%constants.DedupShards]
}
