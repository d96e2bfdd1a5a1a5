package routesynccmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// Main is routesync's process entrypoint, called from cmd/routesync's
// two-line main(). It configures GOMAXPROCS for the container's CPU
// quota exactly as caddy's cmd/main.go does, builds the command tree,
// and translates a returned *exitError into a process exit code.
func Main() {
	bootstrapLog := zap.NewNop()
	if l, err := zap.NewProduction(); err == nil {
		bootstrapLog = l
	}

	undo, err := maxprocs.Set(maxprocs.Logger(bootstrapLog.Sugar().Infof))
	defer undo()
	if err != nil {
		bootstrapLog.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	root := defaultFactory.Build()
	root.SetContext(context.Background())

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
