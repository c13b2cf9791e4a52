package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/parabatch/internal/cli"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

func main() {
	// SIGINT and SIGTERM stop the running job: no new chunks start, running writes finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	err := cli.NewRootCmd(&exitCode).ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Errorf("%v", err)
		if exitCode == 0 {
			exitCode = cli.ExitLaunchError
		}
	}
	os.Exit(exitCode)
}
