package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/studiobook/internal/booking"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/events"
	"github.com/smallbiznis/studiobook/internal/idempotency"
	"github.com/smallbiznis/studiobook/internal/invoice"
	"github.com/smallbiznis/studiobook/internal/materializer"
	"github.com/smallbiznis/studiobook/internal/migration"
	"github.com/smallbiznis/studiobook/internal/observability/logger"
	"github.com/smallbiznis/studiobook/internal/occurrence"
	"github.com/smallbiznis/studiobook/internal/payment"
	"github.com/smallbiznis/studiobook/internal/ratelimit"
	"github.com/smallbiznis/studiobook/internal/registration"
	"github.com/smallbiznis/studiobook/internal/server"
	"github.com/smallbiznis/studiobook/internal/waitlist"
	"github.com/smallbiznis/studiobook/internal/wallet"
	"github.com/smallbiznis/studiobook/internal/webhook"
	"github.com/smallbiznis/studiobook/pkg/db"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return migration.RunMigrations(sqlDB)
		}),
		idempotency.Module,
		ratelimit.Module,
		events.Module,
		occurrence.Module,
		registration.Module,
		wallet.Module,
		invoice.Module,
		payment.Module,
		booking.Module,
		waitlist.Module,
		materializer.Module,
		webhook.Module,
		server.Module,
	)
	app.Run()
}
