// Package cli implements the parabatch command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tigerroll/parabatch/internal/app"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
)

// ExitLaunchError is the exit code when a job could not be launched at all.
const ExitLaunchError = 3

// NewRootCmd builds the command tree. The run command stores the exit code of the job
// it ran in exitCode.
func NewRootCmd(exitCode *int) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "parabatch",
		Short:         "Chunk-oriented batch jobs over files, databases and parquet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML file overlaying the built-in configuration")

	options := func(cmd *cobra.Command) app.Options {
		return app.Options{ConfigPath: configPath, Out: cmd.OutOrStdout()}
	}
	root.AddCommand(
		newRunCmd(options, exitCode),
		newMigrateCmd(options),
		newJobsCmd(),
	)
	return root
}

func newRunCmd(options func(*cobra.Command) app.Options, exitCode *int) *cobra.Command {
	var restart bool

	cmd := &cobra.Command{
		Use:   "run <jobName> [key=value ...]",
		Short: "Run a job once",
		Long: `Runs a job to completion and exits with its status:
0 COMPLETED, 1 FAILED, 2 STOPPED, 3 anything else.

When the last execution of the job did not complete and used the same parameters,
the run resumes it and skips the steps that already completed.`,
		Example: `  parabatch run multiThreadJob inputFlatFile=data/csv/bigtransactions.csv
  parabatch run parallelStepJob inputFlatFile=data/csv/bigtransactions.csv inputXmlFile=data/xml/bigtransactions.xml
  parabatch run parquetExportJob inputFlatFile=gs://batch-input/transactions.csv outputDir=out --restart=false`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			*exitCode = ExitLaunchError
			params, err := model.ParseJobParameters(args[1:])
			if err != nil {
				return err
			}
			je, err := app.Run(cmd.Context(), options(cmd), args[0], params, restart)
			if err != nil {
				return err
			}
			*exitCode = je.Status.ExitCode()
			return nil
		},
	}
	cmd.Flags().BoolVar(&restart, "restart", true, "resume the last execution when it did not complete")
	return cmd
}

func newMigrateCmd(options func(*cobra.Command) app.Options) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the batch metadata and transaction schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Migrate(cmd.Context(), options(cmd), down); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert every migration instead")
	return cmd
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the registered jobs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range app.JobNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
