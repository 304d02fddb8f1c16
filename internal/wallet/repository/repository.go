package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	walletdomain "github.com/smallbiznis/studiobook/internal/wallet/domain"
)

type Repository struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) walletdomain.Repository {
	return &Repository{genID: genID}
}

func (r *Repository) Balance(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, currency string) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM wallet_ledger_entries
		 WHERE tenant_id = ? AND customer_id = ? AND currency = ?`,
		tenantID, customerID, currency,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *Repository) Credit(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, amount int64, currency, sourceType string, sourceID snowflake.ID) error {
	if amount <= 0 {
		return walletdomain.ErrInvalidAmount
	}
	if currency == "" {
		return walletdomain.ErrInvalidCurrency
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO wallet_ledger_entries (id, tenant_id, customer_id, amount, currency, source_type, source_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.genID.Generate(),
		tenantID,
		customerID,
		amount,
		currency,
		sourceType,
		sourceID,
		time.Now().UTC(),
	).Error
}

// Debit writes a negative entry only when the summed balance covers the
// amount. The balance check and the insert are a single statement, so two
// debits racing over the same balance cannot both succeed past zero.
func (r *Repository) Debit(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, amount int64, currency, sourceType string, sourceID snowflake.ID) error {
	if amount <= 0 {
		return walletdomain.ErrInvalidAmount
	}
	if currency == "" {
		return walletdomain.ErrInvalidCurrency
	}
	result := db.WithContext(ctx).Exec(
		`INSERT INTO wallet_ledger_entries (id, tenant_id, customer_id, amount, currency, source_type, source_id, created_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE (SELECT COALESCE(SUM(amount), 0)
		        FROM wallet_ledger_entries
		        WHERE tenant_id = ? AND customer_id = ? AND currency = ?) >= ?`,
		r.genID.Generate(),
		tenantID,
		customerID,
		-amount,
		currency,
		sourceType,
		sourceID,
		time.Now().UTC(),
		tenantID,
		customerID,
		currency,
		amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return walletdomain.ErrInsufficientFunds
	}
	return nil
}

var _ walletdomain.Repository = (*Repository)(nil)
