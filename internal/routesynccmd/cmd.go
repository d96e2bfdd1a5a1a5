// Package routesynccmd wires routesync's three-command CLI surface
// (run, validate, version) on top of cobra/pflag, in the idiom of
// caddy's cmd/cobra.go and cmd/commandfactory.go: a small root command
// factory producing a fresh *cobra.Command tree per invocation, plus an
// exitError type carrying a process exit code back out to main().
package routesynccmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// exitError lets a subcommand request a specific process exit code
// without calling os.Exit itself, so the command tree stays testable.
type exitError struct {
	ExitCode int
	Err      error
}

func (e *exitError) Error() string { return e.Err.Error() }
func (e *exitError) Unwrap() error { return e.Err }

// RootCommandFactory builds the root *cobra.Command fresh on every call,
// mirroring caddy's RootCommandFactory: Build() is safe to call more than
// once (e.g. once per test) without shared mutable state leaking between
// invocations.
type RootCommandFactory struct{}

// Build assembles the routesync command tree.
func (RootCommandFactory) Build() *cobra.Command {
	root := &cobra.Command{
		Use:           "routesync",
		Short:         "Synchronize DNS routing rules from a live proxy engine to a downstream resolver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newVersionCommand())

	return root
}

var defaultFactory = RootCommandFactory{}

// exitCodeError unwraps err looking for an *exitError and returns its
// code, defaulting to 1 for any other non-nil error.
func exitCodeError(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.ExitCode
	}
	return 1
}

func newFatalf(code int, format string, args ...any) *exitError {
	return &exitError{ExitCode: code, Err: fmt.Errorf(format, args...)}
}
