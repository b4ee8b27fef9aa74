package main

import (
	"context"
	"database/sql"

	"voice-gateway/internal/config"
	"voice-gateway/pkg/utils"
)

// openLedger opens the configured database and returns the driver name used.
func openLedger(ctx context.Context, cfg config.Config) (*sql.DB, string, error) {
	if cfg.DB.Driver == "sqlite" {
		db, err := utils.OpenDB(ctx, utils.DriverSQLite, cfg.DB.SQLitePath, utils.DBPoolConfig{})
		return db, utils.DriverSQLite, err
	}
	db, err := utils.OpenDB(ctx, utils.DriverPostgres, cfg.PostgresDSN(), utils.DBPoolConfig{})
	return db, utils.DriverPostgres, err
}
