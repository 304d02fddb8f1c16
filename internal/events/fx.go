package events

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/config"
)

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(func(log *zap.Logger) Notifier {
		return LogNotifier{Log: log.Named("events.notifier")}
	}),
	fx.Provide(func(db *gorm.DB, log *zap.Logger, notifier Notifier, cfg config.Config) *Dispatcher {
		return NewDispatcher(db, log, notifier, cfg.DispatchInterval)
	}),
	fx.Invoke(runDispatcher),
)

func runDispatcher(lc fx.Lifecycle, dispatcher *Dispatcher) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go dispatcher.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
