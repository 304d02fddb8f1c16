package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	registrationdomain "github.com/smallbiznis/studiobook/internal/registration/domain"
)

type Repository struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) registrationdomain.Repository {
	return &Repository{genID: genID}
}

// CreateIfNoActive inserts the registration unless an active one already
// exists for the same (occurrence, customer) pair. The NOT EXISTS guard
// lives in the same statement as the insert, so two concurrent bookings for
// the pair cannot both slip through.
func (r *Repository) CreateIfNoActive(ctx context.Context, db *gorm.DB, reg *registrationdomain.Registration) (bool, error) {
	now := time.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`INSERT INTO registrations (id, occurrence_id, customer_id, tenant_id, status,
		                            booked_at, hold_expires_at, cancel_reason, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?
		 WHERE NOT EXISTS (
		     SELECT 1 FROM registrations
		     WHERE occurrence_id = ? AND customer_id = ? AND status IN (?, ?, ?)
		 )`,
		reg.ID,
		reg.OccurrenceID,
		reg.CustomerID,
		reg.TenantID,
		reg.Status,
		reg.BookedAt,
		reg.HoldExpiresAt,
		now,
		now,
		reg.OccurrenceID,
		reg.CustomerID,
		registrationdomain.StatusPending,
		registrationdomain.StatusConfirmed,
		registrationdomain.StatusWaitlisted,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	return true, r.appendHistory(ctx, db, reg.ID, reg.Status, reg.Status, nil, nil)
}

// Transition moves the registration from one status to another. Reports
// false when the from-state no longer holds, which makes retries and
// overlapping workers safe.
func (r *Repository) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to registrationdomain.Status, reason *string, actorID *snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET status = ?, cancel_reason = COALESCE(?, cancel_reason), updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		reason,
		time.Now().UTC(),
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	return true, r.appendHistory(ctx, db, id, from, to, reason, actorID)
}

func (r *Repository) appendHistory(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to registrationdomain.Status, reason *string, actorID *snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO registration_status_history (id, registration_id, from_status, to_status, reason, actor_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.genID.Generate(),
		id,
		from,
		to,
		reason,
		actorID,
		time.Now().UTC(),
	).Error
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*registrationdomain.Registration, error) {
	var reg registrationdomain.Registration
	err := db.WithContext(ctx).Raw(
		`SELECT id, occurrence_id, customer_id, tenant_id, status, booked_at,
		        hold_expires_at, cancel_reason, created_at, updated_at
		 FROM registrations
		 WHERE id = ?`,
		id,
	).Scan(&reg).Error
	if err != nil {
		return nil, err
	}
	if reg.ID == 0 {
		return nil, registrationdomain.ErrNotFound
	}
	return &reg, nil
}

func (r *Repository) HasActive(ctx context.Context, db *gorm.DB, occurrenceID, customerID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM registrations
		 WHERE occurrence_id = ? AND customer_id = ? AND status IN (?, ?, ?)`,
		occurrenceID,
		customerID,
		registrationdomain.StatusPending,
		registrationdomain.StatusConfirmed,
		registrationdomain.StatusWaitlisted,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// OldestWaitlisted returns the FIFO head of the occurrence's waitlist.
func (r *Repository) OldestWaitlisted(ctx context.Context, db *gorm.DB, occurrenceID snowflake.ID) (*registrationdomain.Registration, error) {
	var reg registrationdomain.Registration
	err := db.WithContext(ctx).Raw(
		`SELECT id, occurrence_id, customer_id, tenant_id, status, booked_at,
		        hold_expires_at, cancel_reason, created_at, updated_at
		 FROM registrations
		 WHERE occurrence_id = ? AND status = ?
		 ORDER BY booked_at ASC, id ASC
		 LIMIT 1`,
		occurrenceID,
		registrationdomain.StatusWaitlisted,
	).Scan(&reg).Error
	if err != nil {
		return nil, err
	}
	if reg.ID == 0 {
		return nil, nil
	}
	return &reg, nil
}

func (r *Repository) ExpiredHolds(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]registrationdomain.Registration, error) {
	if limit <= 0 {
		limit = 100
	}
	var regs []registrationdomain.Registration
	err := db.WithContext(ctx).Raw(
		`SELECT id, occurrence_id, customer_id, tenant_id, status, booked_at,
		        hold_expires_at, cancel_reason, created_at, updated_at
		 FROM registrations
		 WHERE status = ? AND hold_expires_at IS NOT NULL AND hold_expires_at <= ?
		 ORDER BY hold_expires_at ASC
		 LIMIT ?`,
		registrationdomain.StatusPending,
		now,
		limit,
	).Scan(&regs).Error
	if err != nil {
		return nil, err
	}
	return regs, nil
}

func (r *Repository) OccurrenceIDsWithWaitlist(ctx context.Context, db *gorm.DB, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT occurrence_id
		 FROM registrations
		 WHERE status = ?
		 ORDER BY occurrence_id
		 LIMIT ?`,
		registrationdomain.StatusWaitlisted,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

var _ registrationdomain.Repository = (*Repository)(nil)
