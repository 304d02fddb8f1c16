package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// BookRequest is one attempt to register a customer onto an occurrence.
// IdempotencyKey is always set; the server generates one when the client
// does not supply it.
type BookRequest struct {
	IdempotencyKey string
	OccurrenceID   snowflake.ID
	CustomerID     snowflake.ID
	Rail           string
	// RailData is opaque rail input from the client (saved card id,
	// promptpay phone number). Stored on the payment row as-is.
	RailData map[string]string
	ClientIP string
}

// PaymentDescriptor is the caller-facing view of a charge attempt.
// ClientSecret is only set for card intents awaiting client confirmation.
type PaymentDescriptor struct {
	PaymentID    string `json:"payment_id"`
	Rail         string `json:"rail"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// BookResult is stored verbatim under the idempotency key, so a replayed
// request returns exactly what the original saw.
type BookResult struct {
	RegistrationID string             `json:"registration_id"`
	OccurrenceID   string             `json:"occurrence_id"`
	Status         string             `json:"status"`
	Payment        *PaymentDescriptor `json:"payment,omitempty"`
	Replayed       bool               `json:"-"`
}

type CancelRequest struct {
	RegistrationID snowflake.ID
	Reason         string
	ActorID        *snowflake.ID
	ClientIP       string
}

// RefundStateNone / Completed / Pending report what happened to the money
// on cancellation. Pending means the rail refund failed and is recorded for
// follow-up; the cancellation itself never rolls back.
const (
	RefundStateNone      = "none"
	RefundStateCompleted = "completed"
	RefundStatePending   = "pending"
)

type CancelResult struct {
	RegistrationID string `json:"registration_id"`
	Status         string `json:"status"`
	Refund         string `json:"refund"`
}

// Service is the booking orchestrator: all writes go through guarded
// statements on the underlying repositories, so any step can race a
// concurrent request or worker and resolve to a single winner.
type Service interface {
	Book(ctx context.Context, req BookRequest) (*BookResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error)
}

var (
	ErrRateLimited   = errors.New("rate_limited")
	ErrPaymentFailed = errors.New("payment_failed")
	ErrCancelCutoff  = errors.New("cancel_cutoff_passed")
)
