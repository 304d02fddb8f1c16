package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository reads occurrences and owns the capacity ledger. TryReserve and
// Release are each a single guarded statement at the storage layer; callers
// never read-check-write the count themselves.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Occurrence, error)
	// StatusByID always reads storage, never a cache. Callers use it when
	// a stale status would change the decision.
	StatusByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (OccurrenceStatus, error)
	TryReserve(ctx context.Context, db *gorm.DB, id snowflake.ID) (reserved bool, newCount int, err error)
	Release(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListActiveSeries(ctx context.Context, db *gorm.DB) ([]RecurringSeries, error)
	InsertMissing(ctx context.Context, db *gorm.DB, occ *Occurrence) (bool, error)
}
