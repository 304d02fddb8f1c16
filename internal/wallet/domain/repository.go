package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository records ledger entries and computes balances. Debit is atomic:
// the entry is written only if the current balance covers the amount, so
// concurrent debits cannot overdraw.
type Repository interface {
	Balance(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, currency string) (int64, error)
	Credit(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, amount int64, currency, sourceType string, sourceID snowflake.ID) error
	Debit(ctx context.Context, db *gorm.DB, tenantID, customerID snowflake.ID, amount int64, currency, sourceType string, sourceID snowflake.ID) error
}
