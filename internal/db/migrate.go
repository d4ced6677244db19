package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/austindbirch/qrhook/internal/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations over the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through the structured logger.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) {
	logging.Plain().WithField("component", "migrate").Errorf(format, v...)
}

func (gooseLogger) Printf(format string, v ...any) {
	logging.Plain().WithField("component", "migrate").Infof(format, v...)
}
