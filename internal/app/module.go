package app

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/parabatch/internal/transaction"
	gormadapter "github.com/tigerroll/parabatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/parabatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/parabatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/parabatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/parabatch/pkg/batch/component/resource"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/parabatch/pkg/batch/core/config"
	repository "github.com/tigerroll/parabatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/parabatch/pkg/batch/core/metrics"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/item"
	infmetrics "github.com/tigerroll/parabatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/parabatch/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/parabatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/parabatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/parabatch/pkg/batch/infrastructure/tracing"
	"github.com/tigerroll/parabatch/pkg/batch/listener"
	"github.com/tigerroll/parabatch/pkg/batch/listener/logging"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// reportOutput receives the end-of-run report.
type reportOutput struct{ io.Writer }

// runtimeModule provides everything a launch needs on top of *config.Config.
var runtimeModule = fx.Options(
	fx.Provide(
		newDatabase,
		newJobRepository,
		newTelemetryResource,
		newMetricRecorder,
		newTracer,
		newOpener,
		newJobRegistry,
		newJobCoordinator,
	),
	fx.Invoke(registerMigrations),
)

func newDatabase(lc fx.Lifecycle, cfg *config.Config) (*gorm.DB, error) {
	db, err := gormadapter.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Debugf("Closing %s database connection.", cfg.Database.Type)
			return gormadapter.Close(db)
		},
	})
	return db, nil
}

// registerMigrations applies the schema before the first launch when auto_migrate is set.
func registerMigrations(lc fx.Lifecycle, cfg *config.Config) {
	if !cfg.Repository.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return migration.NewMigrator(cfg.Database).Up(ctx, migrationSets(cfg)...)
		},
	})
}

func migrationSets(cfg *config.Config) []migration.Set {
	sets := []migration.Set{transaction.Migrations()}
	if cfg.Repository.Type == "sql" {
		sets = append([]migration.Set{migration.Metadata()}, sets...)
	}
	return sets
}

func newJobRepository(cfg *config.Config, db *gorm.DB) repository.JobRepository {
	if cfg.Repository.Type == "inmemory" {
		logger.Warnf("Using the in-memory job repository; restart state is lost when the process exits.")
		return inmemory.NewInMemoryJobRepository()
	}
	return sqlrepo.NewSQLJobRepository(db)
}

func newTelemetryResource(cfg *config.Config) *sdkresource.Resource {
	return sdkresource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
}

func newMetricRecorder(lc fx.Lifecycle, cfg *config.Config, res *sdkresource.Resource) (metrics.MetricRecorder, error) {
	mc := cfg.Metrics
	switch mc.Exporter {
	case "prometheus":
		recorder := infmetrics.NewPrometheusRecorder()
		if mc.TextfilePath != "" {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					logger.Infof("Writing metrics to %s.", mc.TextfilePath)
					return recorder.WriteTextfile(mc.TextfilePath)
				},
			})
		}
		return recorder, nil
	case "otlp-grpc", "otlp-http":
		provider, err := infmetrics.NewMeterProvider(context.Background(), mc.Exporter, mc.Endpoint, mc.Insecure, mc.Interval, res)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
		recorder, err := infmetrics.NewOTelRecorder(provider.Meter(cfg.ServiceName))
		if err != nil {
			return nil, err
		}
		return recorder, nil
	default:
		return metrics.NewNoOpMetricRecorder(), nil
	}
}

func newTracer(lc fx.Lifecycle, cfg *config.Config, res *sdkresource.Resource) (metrics.Tracer, error) {
	tc := cfg.Tracing
	if tc.Exporter != "otlp-grpc" && tc.Exporter != "otlp-http" {
		return metrics.NewNoOpTracer(), nil
	}
	provider, err := tracing.NewTracerProvider(context.Background(), tc.Exporter, tc.Endpoint, tc.Insecure, res)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: provider.Shutdown})
	return tracing.NewOTelTracer(provider), nil
}

func newOpener(lc fx.Lifecycle, cfg *config.Config) resource.Opener {
	var opener *resource.DefaultOpener
	if cfg.Storage.GCSCredentialsFile != "" {
		opener = resource.NewOpenerFromCredentials(cfg.Storage.GCSCredentialsFile)
	} else {
		opener = resource.NewOpener()
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return opener.Close() }})
	return opener
}

func newJobRegistry(
	cfg *config.Config,
	db *gorm.DB,
	opener resource.Opener,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *usecase.JobRegistry {
	registry := usecase.NewJobRegistry()
	jobs := &transaction.Jobs{
		DB:               db,
		Opener:           opener,
		Batch:            cfg.Batch,
		ConcurrentWrites: cfg.Database.Type != "sqlite",
		StepOptions: []item.Option{
			item.WithMetricRecorder(recorder),
			item.WithTracer(tracer),
			item.WithStepListener(logging.NewLoggingStepListener()),
			item.WithChunkListener(logging.NewLoggingChunkListener()),
		},
	}
	jobs.Register(registry)
	return registry
}

func newJobCoordinator(
	repo repository.JobRepository,
	registry *usecase.JobRegistry,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	out reportOutput,
) *usecase.JobCoordinator {
	return usecase.NewJobCoordinator(repo, registry, recorder, tracer,
		logging.NewLoggingJobListener(),
		listener.NewReportListener(out),
	)
}
