package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"go.uber.org/fx"

	"github.com/smallbiznis/studiobook/internal/config"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

// Open connects to the relational store. All atomic primitives (capacity
// ledger, idempotency reserve, bucket consume) ride this one connection
// pool so they share the same transaction boundary.
func Open(cfg config.Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.IsProduction() {
		level = gormlogger.Error
	}
	conn, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
