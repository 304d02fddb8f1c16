package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// OccurrenceStatus is the lifecycle state of one bookable class instance.
type OccurrenceStatus string

const (
	OccurrenceStatusScheduled OccurrenceStatus = "scheduled"
	OccurrenceStatusCanceled  OccurrenceStatus = "canceled"
	OccurrenceStatusCompleted OccurrenceStatus = "completed"
)

// Occurrence is a single bookable instance of a class. BookedCount is
// mutated only through the capacity ledger statements; a nil Capacity means
// unlimited.
type Occurrence struct {
	ID          snowflake.ID     `gorm:"primaryKey"`
	TenantID    snowflake.ID     `gorm:"not null;index"`
	SeriesID    *snowflake.ID    `gorm:"uniqueIndex:ux_occurrences_series_start,priority:1"`
	StartAt     time.Time        `gorm:"not null;uniqueIndex:ux_occurrences_series_start,priority:2"`
	EndAt       time.Time        `gorm:"not null"`
	Capacity    *int             ``
	BookedCount int              `gorm:"not null;default:0"`
	PriceAmount int64            `gorm:"not null;default:0"`
	Currency    string           `gorm:"type:text;not null"`
	Status      OccurrenceStatus `gorm:"type:text;not null;default:scheduled"`
	CreatedAt   time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Occurrence) TableName() string { return "occurrences" }

// RecurringSeries is a weekly class template the materializer expands into
// concrete occurrences.
type RecurringSeries struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"not null;index"`
	Title          string       `gorm:"type:text;not null"`
	Weekday        int          `gorm:"not null"`
	StartMinute    int          `gorm:"not null"`
	DurationMinute int          `gorm:"not null"`
	Capacity       *int         ``
	PriceAmount    int64        `gorm:"not null;default:0"`
	Currency       string       `gorm:"type:text;not null"`
	Active         bool         `gorm:"not null;default:true"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RecurringSeries) TableName() string { return "recurring_series" }

var (
	ErrOccurrenceNotFound = errors.New("occurrence_not_found")
	ErrNotScheduled       = errors.New("occurrence_not_scheduled")
)
