package materializer

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/idempotency"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
)

// staleBucketAge is how long a rate-limit bucket may sit untouched before
// housekeeping reclaims it.
const staleBucketAge = 7 * 24 * time.Hour

// Materializer expands active recurring series into concrete occurrence
// rows up to the horizon. The unique (series_id, start_at) index makes the
// expansion idempotent, so overlapping runs and restarts are harmless.
type Materializer struct {
	db          *gorm.DB
	log         *zap.Logger
	clk         clock.Clock
	genID       *snowflake.Node
	occurrences occurrencedomain.Repository
	idem        *idempotency.Store
	limiter     *ratelimit.Limiter
	horizonDays int
	interval    time.Duration
}

func New(
	db *gorm.DB,
	log *zap.Logger,
	clk clock.Clock,
	genID *snowflake.Node,
	occurrences occurrencedomain.Repository,
	idem *idempotency.Store,
	limiter *ratelimit.Limiter,
	horizonDays int,
	interval time.Duration,
) *Materializer {
	if horizonDays <= 0 {
		horizonDays = 120
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Materializer{
		db:          db,
		log:         log.Named("materializer"),
		clk:         clk,
		genID:       genID,
		occurrences: occurrences,
		idem:        idem,
		limiter:     limiter,
		horizonDays: horizonDays,
		interval:    interval,
	}
}

func (m *Materializer) RunForever(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil {
			m.log.Warn("materialize pass failed", zap.Error(err))
		}
		m.housekeep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce inserts the missing occurrences for every active series and
// returns how many rows were created.
func (m *Materializer) RunOnce(ctx context.Context) (int, error) {
	series, err := m.occurrences.ListActiveSeries(ctx, m.db)
	if err != nil {
		return 0, err
	}

	now := m.clk.Now().UTC()
	horizon := now.AddDate(0, 0, m.horizonDays)
	generated := 0
	for _, s := range series {
		for _, startAt := range nextStarts(s, now, horizon) {
			occ := &occurrencedomain.Occurrence{
				ID:          m.genID.Generate(),
				TenantID:    s.TenantID,
				SeriesID:    &s.ID,
				StartAt:     startAt,
				EndAt:       startAt.Add(time.Duration(s.DurationMinute) * time.Minute),
				Capacity:    s.Capacity,
				PriceAmount: s.PriceAmount,
				Currency:    s.Currency,
				Status:      occurrencedomain.OccurrenceStatusScheduled,
			}
			inserted, err := m.occurrences.InsertMissing(ctx, m.db, occ)
			if err != nil {
				return generated, err
			}
			if inserted {
				generated++
			}
		}
	}
	return generated, nil
}

// nextStarts lists the series' start instants between from and to: every
// matching weekday at start_minute past UTC midnight.
func nextStarts(s occurrencedomain.RecurringSeries, from, to time.Time) []time.Time {
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	var starts []time.Time
	for !day.After(to) {
		if int(day.Weekday()) == s.Weekday {
			start := day.Add(time.Duration(s.StartMinute) * time.Minute)
			if start.After(from) && !start.After(to) {
				starts = append(starts, start)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return starts
}

// housekeep reclaims expired idempotency keys and idle rate-limit buckets.
// Failures are logged and retried on the next tick.
func (m *Materializer) housekeep(ctx context.Context) {
	if purged, err := m.idem.PurgeExpired(ctx); err != nil {
		m.log.Error("purge idempotency keys", zap.Error(err))
	} else if purged > 0 {
		m.log.Info("purged idempotency keys", zap.Int64("count", purged))
	}

	cutoff := m.clk.Now().Add(-staleBucketAge).UnixNano()
	if purged, err := m.limiter.PurgeIdle(ctx, cutoff); err != nil {
		m.log.Error("purge rate limit buckets", zap.Error(err))
	} else if purged > 0 {
		m.log.Info("purged rate limit buckets", zap.Int64("count", purged))
	}
}
