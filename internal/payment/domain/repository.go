package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists payment rows. UpdateStatus is guarded by the current
// status so webhook replays and races resolve to a single winner.
type Repository interface {
	Create(ctx context.Context, db *gorm.DB, p *Payment) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to PaymentStatus) (bool, error)
	AttachExternalRef(ctx context.Context, db *gorm.DB, id snowflake.ID, externalRef string) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*Payment, error)
	LatestCharge(ctx context.Context, db *gorm.DB, registrationID snowflake.ID) (*Payment, error)
}
