package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	SourceTypeTopUp      = "topup"
	SourceTypePayment    = "booking_payment"
	SourceTypeRefund     = "refund"
	SourceTypeAdjustment = "adjustment"
)

// LedgerEntry is an immutable debit (negative) or credit (positive) against
// a customer's balance within a tenant. The balance is the sum of entries;
// there is no mutable balance column.
type LedgerEntry struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TenantID   snowflake.ID `gorm:"not null;index:ix_wallet_ledger_balance,priority:1"`
	CustomerID snowflake.ID `gorm:"not null;index:ix_wallet_ledger_balance,priority:2"`
	Amount     int64        `gorm:"not null"`
	Currency   string       `gorm:"type:text;not null;index:ix_wallet_ledger_balance,priority:3"`
	SourceType string       `gorm:"type:text;not null"`
	SourceID   snowflake.ID `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "wallet_ledger_entries" }

var (
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
)
