// Package rsynclog builds the process-wide zap logger from the single
// `log_level` configuration key, adapted from the production JSON
// encoder setup in caddy's logging.go down to the one sink routesync
// actually needs: structured JSON on stderr.
package rsynclog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger at the given level ("debug", "info", "warn",
// "error"). An unrecognized level is an initialization failure (spec.md
// §7, "init failures": log, exit 1).
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(os.Stderr)),
		zapLevel,
	)

	return zap.New(core, zap.AddCaller()), nil
}
