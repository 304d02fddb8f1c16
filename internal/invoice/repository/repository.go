package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	invoicedomain "github.com/smallbiznis/studiobook/internal/invoice/domain"
)

type Repository struct {
	genID      *snowflake.Node
	clk        clock.Clock
	taxRateBps int64
	dueDays    int
}

func Provide(genID *snowflake.Node, clk clock.Clock, cfg config.Config) invoicedomain.Repository {
	return &Repository{
		genID:      genID,
		clk:        clk,
		taxRateBps: cfg.TaxRateBps,
		dueDays:    cfg.InvoiceDueDays,
	}
}

// New is the constructor used by tests to pin the tax rate and due window.
func New(genID *snowflake.Node, clk clock.Clock, taxRateBps int64, dueDays int) invoicedomain.Repository {
	return &Repository{genID: genID, clk: clk, taxRateBps: taxRateBps, dueDays: dueDays}
}

// Issue creates an invoice for the registration. Tax is computed in basis
// points with integer truncation, matching how the amounts are stored.
func (r *Repository) Issue(ctx context.Context, db *gorm.DB, tenantID, registrationID snowflake.ID, subtotal int64, currency string) (*invoicedomain.Invoice, error) {
	now := r.clk.Now().UTC()
	inv := &invoicedomain.Invoice{
		ID:             r.genID.Generate(),
		TenantID:       tenantID,
		RegistrationID: registrationID,
		DueAt:          now.AddDate(0, 0, r.dueDays),
		SubtotalAmount: subtotal,
		TaxAmount:      subtotal * r.taxRateBps / 10000,
		Currency:       currency,
		Status:         invoicedomain.InvoiceStatusIssued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inv.TotalAmount = inv.SubtotalAmount + inv.TaxAmount

	err := db.WithContext(ctx).Exec(
		`INSERT INTO invoices (id, tenant_id, registration_id, due_at, subtotal_amount,
		                       tax_amount, total_amount, currency, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.TenantID,
		inv.RegistrationID,
		inv.DueAt,
		inv.SubtotalAmount,
		inv.TaxAmount,
		inv.TotalAmount,
		inv.Currency,
		inv.Status,
		inv.CreatedAt,
		inv.UpdatedAt,
	).Error
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *Repository) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	return r.transition(ctx, db, id, invoicedomain.InvoiceStatusIssued, invoicedomain.InvoiceStatusPaid)
}

func (r *Repository) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	return r.transition(ctx, db, id, invoicedomain.InvoiceStatusIssued, invoicedomain.InvoiceStatusCanceled)
}

func (r *Repository) transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to invoicedomain.InvoiceStatus) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
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

func (r *Repository) FindByRegistration(ctx context.Context, db *gorm.DB, registrationID snowflake.ID) (*invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, registration_id, due_at, subtotal_amount, tax_amount,
		        total_amount, currency, status, created_at, updated_at
		 FROM invoices
		 WHERE registration_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		registrationID,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return &inv, nil
}

var _ invoicedomain.Repository = (*Repository)(nil)
