package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"qagen/internal/bootstrap/config"
	"qagen/internal/bootstrap/database"
	"qagen/internal/bootstrap/logging"
	cacheinfra "qagen/internal/infrastructure/cache"
	eventsinfra "qagen/internal/infrastructure/events"
	jirainfra "qagen/internal/infrastructure/jira"
	openaiinfra "qagen/internal/infrastructure/openai"
	sqliterepo "qagen/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "qagen/internal/infrastructure/persistence/sqlite/uow"
	reportinfra "qagen/internal/infrastructure/report"
	xrayinfra "qagen/internal/infrastructure/xray"
	"qagen/internal/ports"
	"qagen/internal/usecase/testgen"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideProfile),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewRecordRepository,
			fx.As(new(ports.RecordStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideTracker),
	fx.Provide(provideTestManagement),
	fx.Provide(provideAssistant),
	fx.Provide(provideRenderer),
	fx.Provide(provideEvents),
	fx.Provide(provideService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	if err := database.Migrate(logCtx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func provideProfile(ctx context.Context, cfg config.Config) (testgen.WorkflowProfile, error) {
	return testgen.LoadWorkflowProfile(ctx, cfg.App.Workflow)
}

func provideApp(cfg config.Config, db *gorm.DB, profile testgen.WorkflowProfile) *App {
	return &App{
		Config:  cfg,
		DB:      db,
		Profile: profile,
	}
}

func provideTracker(cfg config.Config) ports.IssueTracker {
	return jirainfra.NewClient(cfg.Jira)
}

func provideTestManagement(cfg config.Config) ports.TestManagement {
	return xrayinfra.NewClient(cfg.Xray)
}

func provideAssistant(cfg config.Config) ports.Assistant {
	return openaiinfra.NewAssistant(cfg.OpenAI)
}

func provideRenderer(cfg config.Config, profile testgen.WorkflowProfile) ports.ReportRenderer {
	return reportinfra.NewWorkbookRenderer(cfg.Report.OutputDir, profile.Project.Key)
}

func provideEvents(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (ports.EventPublisher, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	publisher, closeFn, err := eventsinfra.New(logCtx, cfg.Events)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return closeFn()
		},
	})
	return publisher, nil
}

type serviceParams struct {
	fx.In

	Config    config.Config
	Profile   testgen.WorkflowProfile
	Tracker   ports.IssueTracker
	Tests     ports.TestManagement
	Assistant ports.Assistant
	Records   ports.RecordStore
	Cache     ports.Cache
	Renderer  ports.ReportRenderer
	Events    ports.EventPublisher
	UoW       ports.UnitOfWork
}

func provideService(p serviceParams) *testgen.Service {
	return testgen.NewService(testgen.Dependencies{
		Tracker:   p.Tracker,
		Tests:     p.Tests,
		Assistant: p.Assistant,
		Records:   p.Records,
		Cache:     p.Cache,
		Renderer:  p.Renderer,
		Events:    p.Events,
		UoW:       p.UoW,
	}, p.Profile, p.Config.Report.DownloadDir)
}
