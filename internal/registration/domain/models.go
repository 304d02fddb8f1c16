package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a registration.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
	StatusCanceled   Status = "canceled"
	StatusRefunded   Status = "refunded"
)

// ActiveStatuses are the states that count toward the one-active-
// registration-per-(occurrence, customer) rule.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusWaitlisted}

// Registration binds one customer to one occurrence. Rows are never
// deleted; every transition appends to registration_status_history.
type Registration struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OccurrenceID  snowflake.ID `gorm:"not null;index"`
	CustomerID    snowflake.ID `gorm:"not null;index"`
	TenantID      snowflake.ID `gorm:"not null"`
	Status        Status       `gorm:"type:text;not null"`
	BookedAt      time.Time    `gorm:"not null"`
	HoldExpiresAt *time.Time
	CancelReason  *string   `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Registration) TableName() string { return "registrations" }

// StatusHistory is the append-only transition log for a registration.
type StatusHistory struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	RegistrationID snowflake.ID  `gorm:"not null;index"`
	FromStatus     Status        `gorm:"type:text;not null"`
	ToStatus       Status        `gorm:"type:text;not null"`
	Reason         *string       `gorm:"type:text"`
	ActorID        *snowflake.ID ``
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (StatusHistory) TableName() string { return "registration_status_history" }

var (
	ErrNotFound          = errors.New("registration_not_found")
	ErrAlreadyRegistered = errors.New("already_registered")
	ErrInvalidState      = errors.New("invalid_registration_state")
)
