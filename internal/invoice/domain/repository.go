package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository issues and settles invoices. Issue computes tax from the
// configured rate; MarkPaid and Cancel are status-guarded so replays are
// no-ops.
type Repository interface {
	Issue(ctx context.Context, db *gorm.DB, tenantID, registrationID snowflake.ID, subtotal int64, currency string) (*Invoice, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	FindByRegistration(ctx context.Context, db *gorm.DB, registrationID snowflake.ID) (*Invoice, error)
}
