package idempotency

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
)

var Module = fx.Module("idempotency",
	fx.Provide(func(db *gorm.DB, clk clock.Clock, cfg config.Config) *Store {
		return NewStore(db, clk, cfg.IdempotencyTTL)
	}),
)
