// Package app wires the parabatch runtime with uber-fx: configuration, database, job
// repository, observability and the transaction jobs.
package app

import (
	"context"
	_ "embed"
	"io"
	"os"

	"go.uber.org/fx"

	"github.com/tigerroll/parabatch/internal/transaction"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/parabatch/pkg/batch/core/config"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/parabatch/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

// Options select the configuration file and where the run report goes.
type Options struct {
	// ConfigPath overlays the embedded defaults. Empty uses the defaults alone.
	ConfigPath string
	// Out receives the run report. Defaults to os.Stdout.
	Out io.Writer
}

func (o Options) configModule() fx.Option {
	out := o.Out
	if out == nil {
		out = os.Stdout
	}
	return fx.Options(
		logger.Module,
		fx.Supply(
			config.EmbeddedConfig(embeddedConfig),
			fx.Annotate(o.ConfigPath, fx.ResultTags(`name:"configPath"`)),
		),
		fx.Provide(func() reportOutput { return reportOutput{out} }),
		config.Module,
	)
}

// Run launches jobName once and returns its execution. The error is non-nil when the
// runtime could not start or the launch was rejected; a job that ran and failed is
// reported through the execution status.
func Run(ctx context.Context, opts Options, jobName string, params model.JobParameters, restart bool) (*model.JobExecution, error) {
	var coordinator *usecase.JobCoordinator
	app := fx.New(
		opts.configModule(),
		runtimeModule,
		fx.Populate(&coordinator),
	)
	if err := start(app); err != nil {
		return nil, err
	}
	defer stop(app)

	return coordinator.Launch(ctx, jobName, params, usecase.LaunchOptions{Restart: restart})
}

// Migrate applies, or with down reverts, the metadata and application schemas.
func Migrate(ctx context.Context, opts Options, down bool) error {
	var cfg *config.Config
	app := fx.New(opts.configModule(), fx.Populate(&cfg))
	if err := app.Err(); err != nil {
		return err
	}
	m := migration.NewMigrator(cfg.Database)
	sets := []migration.Set{migration.Metadata(), transaction.Migrations()}
	if down {
		return m.Down(ctx, sets...)
	}
	return m.Up(ctx, sets...)
}

// JobNames lists the jobs Run accepts.
func JobNames() []string {
	registry := usecase.NewJobRegistry()
	(&transaction.Jobs{}).Register(registry)
	return registry.Names()
}

func start(app *fx.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	return app.Start(ctx)
}

func stop(app *fx.App) {
	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Errorf("Application shutdown failed: %v", err)
	}
}
