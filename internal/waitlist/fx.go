package waitlist

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/events"
	occurrencedomain "github.com/smallbiznis/studiobook/internal/occurrence/domain"
	registrationdomain "github.com/smallbiznis/studiobook/internal/registration/domain"
)

var Module = fx.Module("waitlist",
	fx.Provide(func(
		db *gorm.DB,
		log *zap.Logger,
		clk clock.Clock,
		occurrences occurrencedomain.Repository,
		registrations registrationdomain.Repository,
		outbox *events.Outbox,
		cfg config.Config,
	) *Promoter {
		return NewPromoter(db, log, clk, occurrences, registrations, outbox, cfg.PromoteInterval)
	}),
	fx.Invoke(runPromoter),
)

func runPromoter(lc fx.Lifecycle, promoter *Promoter) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go promoter.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
