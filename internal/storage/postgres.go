package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fraudwatch/internal/config"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/retry"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertIfAbsent(ctx context.Context, rec models.MessageRecord) (UpsertResult, error) {
	query := `
		INSERT INTO messages (fingerprint, chat_id, user_id, content, kind, matched_rules, score, flagged, critical, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	matched := rec.Verdict.MatchedRules
	if matched == nil {
		matched = []string{}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rec.Fingerprint, rec.ChatID, rec.UserID, rec.Content, string(rec.Kind),
		pq.Array(matched), rec.Verdict.Score, rec.Verdict.Flagged, rec.Verdict.Critical,
		rec.Timestamp, createdAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return AlreadyExisted, nil
	}
	if err != nil {
		return 0, classify(fmt.Errorf("failed to insert message: %w", err))
	}
	return Created, nil
}

func (s *PostgresStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE fingerprint = $1)`, fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("failed to check message: %w", err))
	}
	return exists, nil
}

func (s *PostgresStore) RecentFingerprints(ctx context.Context, since time.Time, limit int) ([]string, error) {
	query := `
		SELECT fingerprint
		FROM messages
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return fps, nil
}

func (s *PostgresStore) AppendSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (id, type, chat_id, user_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Type), ev.ChatID, ev.UserID, ev.Details, ev.Timestamp,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to insert security event: %w", err))
	}
	return nil
}

func (s *PostgresStore) LoadRules(ctx context.Context) ([]config.RuleConfig, error) {
	query := `
		SELECT id, description, kind, severity, critical, case_sensitive, whole_word,
		       patterns, min_matches, expression
		FROM fraud_rules
		WHERE enabled = true
		ORDER BY position ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []config.RuleConfig
	for rows.Next() {
		var (
			rule      config.RuleConfig
			wholeWord sql.NullBool
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.Description,
			&rule.Kind,
			&rule.Severity,
			&rule.Critical,
			&rule.CaseSensitive,
			&wholeWord,
			pq.Array(&rule.Patterns),
			&rule.MinMatches,
			&rule.Expression,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if wholeWord.Valid {
			v := wholeWord.Bool
			rule.WholeWord = &v
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// classify marks connection-level and transient server errors retryable and
// every other Postgres error fatal.
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code.Class() {
	case "08", "40", "53", "57":
		return retry.NewRetryableError(err)
	default:
		return retry.NewFatalError(err)
	}
}
