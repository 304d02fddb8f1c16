package ratelimit

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
)

const casAttempts = 3

// Limiter is a token bucket persisted per key in rate_limit_buckets.
// Buckets are shared by every process that talks to the same store, so a
// key is throttled consistently across replicas.
type Limiter struct {
	db  *gorm.DB
	log *zap.Logger
	clk clock.Clock
}

func NewLimiter(db *gorm.DB, log *zap.Logger, clk clock.Clock) *Limiter {
	return &Limiter{db: db, log: log.Named("ratelimit"), clk: clk}
}

type bucketRow struct {
	Tokens     float64
	LastRefill int64
}

// Consume refills the bucket proportionally to elapsed time (capped at
// burst), then attempts to subtract cost. A denied call leaves the bucket
// untouched. Storage failure allows the request: blocking legitimate
// traffic during an infrastructure outage costs more than an unthrottled
// window, and every allowed request still hits the capacity and
// registration invariants behind it.
func (l *Limiter) Consume(ctx context.Context, key string, cost float64, refillPerSecond float64, burst float64) bool {
	if key == "" || cost <= 0 {
		return false
	}
	if burst < cost {
		burst = cost
	}

	allowed, err := l.consume(ctx, key, cost, refillPerSecond, burst)
	if err != nil {
		l.log.Warn("rate limit store unavailable, failing open",
			zap.String("key", key),
			zap.Error(err))
		return true
	}
	return allowed
}

func (l *Limiter) consume(ctx context.Context, key string, cost, refillPerSecond, burst float64) (bool, error) {
	now := l.clk.Now().UnixNano()

	if err := l.db.WithContext(ctx).Exec(
		`INSERT INTO rate_limit_buckets (key, tokens, last_refill)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		key,
		burst,
		now,
	).Error; err != nil {
		return false, err
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		var row bucketRow
		if err := l.db.WithContext(ctx).Raw(
			`SELECT tokens, last_refill FROM rate_limit_buckets WHERE key = ?`,
			key,
		).Scan(&row).Error; err != nil {
			return false, err
		}

		tokens := row.Tokens
		elapsed := float64(now-row.LastRefill) / 1e9
		if elapsed > 0 {
			tokens += elapsed * refillPerSecond
		}
		if tokens > burst {
			tokens = burst
		}

		if tokens < cost {
			return false, nil
		}

		// CAS on the previous refill stamp: whoever updates first wins,
		// losers recompute against the fresh row.
		result := l.db.WithContext(ctx).Exec(
			`UPDATE rate_limit_buckets
			 SET tokens = ?, last_refill = ?
			 WHERE key = ? AND last_refill = ?`,
			tokens-cost,
			now,
			key,
			row.LastRefill,
		)
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected > 0 {
			return true, nil
		}
	}

	// Contention exhausted the retry budget; deny rather than overspend.
	return false, nil
}

// PurgeIdle removes buckets that have not refilled since the cutoff.
// Housekeeping only; a purged bucket is recreated full on next use.
func (l *Limiter) PurgeIdle(ctx context.Context, cutoffUnixNano int64) (int64, error) {
	result := l.db.WithContext(ctx).Exec(
		`DELETE FROM rate_limit_buckets WHERE last_refill < ?`,
		cutoffUnixNano,
	)
	return result.RowsAffected, result.Error
}
