package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusIssued   InvoiceStatus = "issued"
	InvoiceStatusPaid     InvoiceStatus = "paid"
	InvoiceStatusCanceled InvoiceStatus = "canceled"
)

// Invoice is a pay-later obligation for a registration. Amounts are minor
// units; total = subtotal + tax.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	TenantID       snowflake.ID  `gorm:"not null"`
	RegistrationID snowflake.ID  `gorm:"not null;index:ix_invoices_registration"`
	DueAt          time.Time     `gorm:"not null"`
	SubtotalAmount int64         `gorm:"not null"`
	TaxAmount      int64         `gorm:"not null"`
	TotalAmount    int64         `gorm:"not null"`
	Currency       string        `gorm:"type:text;not null"`
	Status         InvoiceStatus `gorm:"type:text;not null"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvalidState    = errors.New("invalid_invoice_state")
)
