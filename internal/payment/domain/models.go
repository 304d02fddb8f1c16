package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

const (
	RailWallet    = "wallet"
	RailCard      = "card"
	RailPromptPay = "promptpay"
	RailInvoice   = "invoice"
)

// Payment is one charge or refund attempt against a registration. Refunds
// are separate negative-amount rows, never edits to the original charge.
type Payment struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	RegistrationID snowflake.ID   `gorm:"not null;index:ix_payments_registration"`
	TenantID       snowflake.ID   `gorm:"not null"`
	Rail           string         `gorm:"type:text;not null"`
	Amount         int64          `gorm:"not null"`
	Currency       string         `gorm:"type:text;not null"`
	Status         PaymentStatus  `gorm:"type:text;not null"`
	ExternalRef    *string        `gorm:"type:text;index:ix_payments_external_ref"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

var (
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrUnknownRail     = errors.New("unknown_payment_rail")
	ErrNotImplemented  = errors.New("payment_rail_not_implemented")
)
