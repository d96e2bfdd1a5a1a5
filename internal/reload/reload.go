// Package reload invokes the downstream resolver's reload command: an
// arbitrary shell string, executed as-is (not tokenized), since the
// original (mosdns_controller.py's asyncio.create_subprocess_shell) and
// spec.md §6 both treat it as shell syntax, not an argv vector.
package reload

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// Reloader runs the configured reload command.
type Reloader struct {
	command string
	log     *zap.Logger
}

// New builds a Reloader bound to a shell command string.
func New(command string, log *zap.Logger) *Reloader {
	return &Reloader{command: command, log: log.Named("reload")}
}

// Reload runs the command through "sh -c", capturing stdout/stderr for
// logging. Success is exit code 0; any other outcome is a ReloadFailure
// that the caller logs and otherwise ignores (spec.md §7: the new final
// files stay in place, the observer loop continues).
func (r *Reloader) Reload(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", r.command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	r.log.Info("reload command finished",
		zap.String("command", r.command),
		zap.String("stdout", stdout.String()),
		zap.String("stderr", stderr.String()),
		zap.Error(err))

	if err != nil {
		return fmt.Errorf("reload command failed: %w", err)
	}
	return nil
}
