package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	paymentdomain "github.com/smallbiznis/studiobook/internal/payment/domain"
)

type Repository struct{}

func Provide() paymentdomain.Repository {
	return &Repository{}
}

func (r *Repository) Create(ctx context.Context, db *gorm.DB, p *paymentdomain.Payment) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (id, registration_id, tenant_id, rail, amount, currency,
		                       status, external_ref, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.RegistrationID,
		p.TenantID,
		p.Rail,
		p.Amount,
		p.Currency,
		p.Status,
		p.ExternalRef,
		p.Metadata,
		now,
		now,
	).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to paymentdomain.PaymentStatus) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC(),
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) AttachExternalRef(ctx context.Context, db *gorm.DB, id snowflake.ID, externalRef string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments SET external_ref = ?, updated_at = ? WHERE id = ?`,
		externalRef,
		time.Now().UTC(),
		id,
	).Error
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*paymentdomain.Payment, error) {
	var p paymentdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, registration_id, tenant_id, rail, amount, currency, status,
		        external_ref, metadata, created_at, updated_at
		 FROM payments WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *Repository) FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*paymentdomain.Payment, error) {
	var p paymentdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, registration_id, tenant_id, rail, amount, currency, status,
		        external_ref, metadata, created_at, updated_at
		 FROM payments WHERE external_ref = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		externalRef,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return &p, nil
}

// LatestCharge returns the newest positive-amount payment for the
// registration, skipping refund rows.
func (r *Repository) LatestCharge(ctx context.Context, db *gorm.DB, registrationID snowflake.ID) (*paymentdomain.Payment, error) {
	var p paymentdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, registration_id, tenant_id, rail, amount, currency, status,
		        external_ref, metadata, created_at, updated_at
		 FROM payments
		 WHERE registration_id = ? AND amount > 0
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		registrationID,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return &p, nil
}

var _ paymentdomain.Repository = (*Repository)(nil)
