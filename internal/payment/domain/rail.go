package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ChargeRequest carries everything a rail needs to take payment for a
// registration. Amount is in minor units.
type ChargeRequest struct {
	TenantID       snowflake.ID
	CustomerID     snowflake.ID
	RegistrationID snowflake.ID
	PaymentID      snowflake.ID
	Amount         int64
	Currency       string
	RailData       map[string]string
}

// ChargeResult reports what the rail did. Failed charges come back as a
// result, not an error; errors are reserved for unknown outcomes.
type ChargeResult struct {
	Status        PaymentStatus
	ExternalRef   string
	ClientSecret  string
	FailureReason string
}

// Rail is one way money moves: wallet debit, card intent, deferred invoice.
// Charge runs inside the caller's transaction when the rail is db-backed;
// external rails ignore db.
type Rail interface {
	Kind() string
	Charge(ctx context.Context, db *gorm.DB, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, db *gorm.DB, original *Payment) error
}
