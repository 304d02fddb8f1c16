package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists registrations. Mutations are guarded statements:
// CreateIfNoActive enforces the unique-active rule at insert time,
// Transition refuses any move whose from-state no longer holds.
type Repository interface {
	CreateIfNoActive(ctx context.Context, db *gorm.DB, reg *Registration) (bool, error)
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, reason *string, actorID *snowflake.ID) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Registration, error)
	HasActive(ctx context.Context, db *gorm.DB, occurrenceID, customerID snowflake.ID) (bool, error)
	OldestWaitlisted(ctx context.Context, db *gorm.DB, occurrenceID snowflake.ID) (*Registration, error)
	ExpiredHolds(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Registration, error)
	OccurrenceIDsWithWaitlist(ctx context.Context, db *gorm.DB, limit int) ([]snowflake.ID, error)
}
