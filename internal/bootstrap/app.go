package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"qagen/internal/bootstrap/config"
	"qagen/internal/bootstrap/database"
	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
	"qagen/internal/usecase/testgen"
)

type App struct {
	Config  config.Config
	DB      *gorm.DB
	Profile testgen.WorkflowProfile
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := database.Migrate(ctx, a.DB); err != nil {
		return errs.Wrap(err, "migrate schema")
	}

	tables := make([]string, 0, len(database.Models()))
	for _, m := range database.Models() {
		stmt := &gorm.Statement{DB: a.DB}
		if err := stmt.Parse(m); err != nil {
			return errs.Wrap(err, "parse model")
		}
		tables = append(tables, stmt.Schema.Table)
	}

	logging.Info(logCtx, "schema migration completed", slog.Any("tables", tables))
	return nil
}
