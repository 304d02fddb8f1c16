package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/cache"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
)

const lookupCacheTTL = 5 * time.Second

type Repository struct {
	lookups cache.Cache[snowflake.ID, occurrencedomain.Occurrence]
}

// Provide builds the occurrence repository with a short-TTL lookup cache.
// The cache only serves the descriptive fields (price, times, tenant); the
// reserve statement revalidates status and capacity on every booking.
func Provide() occurrencedomain.Repository {
	return &Repository{lookups: cache.NewTTLCache[snowflake.ID, occurrencedomain.Occurrence]()}
}

// NewWithCache is the constructor used by tests to control caching.
func NewWithCache(lookups cache.Cache[snowflake.ID, occurrencedomain.Occurrence]) occurrencedomain.Repository {
	return &Repository{lookups: lookups}
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*occurrencedomain.Occurrence, error) {
	if cached, ok := r.lookups.Get(id); ok {
		return &cached, nil
	}

	var occ occurrencedomain.Occurrence
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, series_id, start_at, end_at, capacity, booked_count,
		        price_amount, currency, status, created_at, updated_at
		 FROM occurrences
		 WHERE id = ?`,
		id,
	).Scan(&occ).Error
	if err != nil {
		return nil, err
	}
	if occ.ID == 0 {
		return nil, occurrencedomain.ErrOccurrenceNotFound
	}
	r.lookups.Set(id, occ, lookupCacheTTL)
	return &occ, nil
}

func (r *Repository) StatusByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (occurrencedomain.OccurrenceStatus, error) {
	var status string
	err := db.WithContext(ctx).Raw(
		`SELECT status FROM occurrences WHERE id = ?`, id,
	).Scan(&status).Error
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", occurrencedomain.ErrOccurrenceNotFound
	}
	return occurrencedomain.OccurrenceStatus(status), nil
}

// TryReserve is the capacity ledger's check-and-increment. The WHERE clause
// carries the whole invariant: scheduled status and a free slot (or
// unlimited capacity). Exactly one of N concurrent callers can win the
// boundary slot.
func (r *Repository) TryReserve(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, int, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE occurrences
		 SET booked_count = booked_count + 1, updated_at = ?
		 WHERE id = ?
		   AND status = ?
		   AND (capacity IS NULL OR booked_count < capacity)`,
		time.Now().UTC(),
		id,
		occurrencedomain.OccurrenceStatusScheduled,
	)
	if result.Error != nil {
		return false, 0, result.Error
	}
	if result.RowsAffected == 0 {
		return false, 0, nil
	}
	r.lookups.Delete(id)

	var count int
	if err := db.WithContext(ctx).Raw(
		`SELECT booked_count FROM occurrences WHERE id = ?`, id,
	).Scan(&count).Error; err != nil {
		return true, 0, err
	}
	return true, count, nil
}

// Release is the inverse of TryReserve. The booked_count > 0 guard keeps a
// double release from driving the count negative.
func (r *Repository) Release(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	err := db.WithContext(ctx).Exec(
		`UPDATE occurrences
		 SET booked_count = booked_count - 1, updated_at = ?
		 WHERE id = ? AND booked_count > 0`,
		time.Now().UTC(),
		id,
	).Error
	if err == nil {
		r.lookups.Delete(id)
	}
	return err
}

func (r *Repository) ListActiveSeries(ctx context.Context, db *gorm.DB) ([]occurrencedomain.RecurringSeries, error) {
	var series []occurrencedomain.RecurringSeries
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, title, weekday, start_minute, duration_minute,
		        capacity, price_amount, currency, active, created_at, updated_at
		 FROM recurring_series
		 WHERE active = true
		 ORDER BY id`,
	).Scan(&series).Error
	if err != nil {
		return nil, err
	}
	return series, nil
}

// InsertMissing creates the occurrence unless one already exists for the
// same (series, start) pair. Reports whether a row was inserted.
func (r *Repository) InsertMissing(ctx context.Context, db *gorm.DB, occ *occurrencedomain.Occurrence) (bool, error) {
	now := time.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`INSERT INTO occurrences (id, tenant_id, series_id, start_at, end_at, capacity,
		                          booked_count, price_amount, currency, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		 ON CONFLICT (series_id, start_at) DO NOTHING`,
		occ.ID,
		occ.TenantID,
		occ.SeriesID,
		occ.StartAt,
		occ.EndAt,
		occ.Capacity,
		occ.PriceAmount,
		occ.Currency,
		occurrencedomain.OccurrenceStatusScheduled,
		now,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

var _ occurrencedomain.Repository = (*Repository)(nil)
