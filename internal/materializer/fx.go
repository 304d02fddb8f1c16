package materializer

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/idempotency"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
)

var Module = fx.Module("materializer",
	fx.Provide(func(
		db *gorm.DB,
		log *zap.Logger,
		clk clock.Clock,
		genID *snowflake.Node,
		occurrences occurrencedomain.Repository,
		idem *idempotency.Store,
		limiter *ratelimit.Limiter,
		cfg config.Config,
	) *Materializer {
		return New(db, log, clk, genID, occurrences, idem, limiter, cfg.MaterializeHorizonDays, cfg.MaterializeInterval)
	}),
	fx.Invoke(runMaterializer),
)

func runMaterializer(lc fx.Lifecycle, materializer *Materializer) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go materializer.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
