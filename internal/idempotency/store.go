package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
)

const (
	statusReserved  = "reserved"
	statusCompleted = "completed"
)

var (
	// ErrInProgress means the original request holding this key has not
	// completed yet. The caller should retry after it settles.
	ErrInProgress = errors.New("idempotency_in_progress")
)

// Store deduplicates retried requests by client-supplied key. The reserve
// insert decides first-writer-wins; replays of a completed key get the
// original result back instead of re-executing side effects.
type Store struct {
	db  *gorm.DB
	clk clock.Clock
	ttl time.Duration
}

func NewStore(db *gorm.DB, clk clock.Clock, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{db: db, clk: clk, ttl: ttl}
}

type keyRow struct {
	Status    string
	Result    datatypes.JSON
	ExpiresAt time.Time
}

// GetOrReserve claims the key for the current request. isNew reports
// whether this caller won the claim; otherwise existing carries the stored
// result of the original request, or ErrInProgress if it is still running.
func (s *Store) GetOrReserve(ctx context.Context, key string) (isNew bool, existing json.RawMessage, err error) {
	if key == "" {
		return false, nil, errors.New("missing_idempotency_key")
	}
	now := s.clk.Now()

	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_keys (key, status, result, created_at, expires_at)
		 VALUES (?, ?, NULL, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		key,
		statusReserved,
		now,
		now.Add(s.ttl),
	)
	if result.Error != nil {
		return false, nil, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil, nil
	}

	var row keyRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT status, result, expires_at FROM idempotency_keys WHERE key = ?`,
		key,
	).Scan(&row).Error; err != nil {
		return false, nil, err
	}

	if !row.ExpiresAt.After(now) {
		// Expired key: reclaim it in place. The guard on expires_at makes
		// concurrent reclaims pick exactly one winner.
		claim := s.db.WithContext(ctx).Exec(
			`UPDATE idempotency_keys
			 SET status = ?, result = NULL, created_at = ?, expires_at = ?
			 WHERE key = ? AND expires_at <= ?`,
			statusReserved,
			now,
			now.Add(s.ttl),
			key,
			now,
		)
		if claim.Error != nil {
			return false, nil, claim.Error
		}
		if claim.RowsAffected > 0 {
			return true, nil, nil
		}
		return false, nil, ErrInProgress
	}

	if row.Status != statusCompleted {
		return false, nil, ErrInProgress
	}
	return false, json.RawMessage(row.Result), nil
}

// Complete stores the request outcome against the key so replays can
// return it verbatim.
func (s *Store) Complete(ctx context.Context, key string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		`UPDATE idempotency_keys SET status = ?, result = ? WHERE key = ?`,
		statusCompleted,
		datatypes.JSON(payload),
		key,
	).Error
}

// Release drops a reserved key after a failed request so the client can
// retry with the same key.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_keys WHERE key = ? AND status = ?`,
		key,
		statusReserved,
	).Error
}

// PurgeExpired removes keys past their expiry window.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_keys WHERE expires_at <= ?`,
		s.clk.Now(),
	)
	return result.RowsAffected, result.Error
}
