package routesynccmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"routesync/internal/config"
	"routesync/internal/localconfig"
)

func newValidateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file (and local config, if set) without starting the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "routesync.yaml", "path to the YAML configuration file")
	return cmd
}

// validateConfig loads and validates cfg plus the optional local config
// file, making no network calls, mirroring caddy's cmdValidateConfig but
// scoped to routesync's own YAML shape rather than a Caddyfile/JSON
// adapter pipeline.
func validateConfig(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return newFatalf(1, "configuration is invalid: %w", err)
	}

	if cfg.UpstreamLocalConfigPath != "" {
		if _, err := localconfig.Parse(cfg.UpstreamLocalConfigPath, zap.NewNop()); err != nil {
			return newFatalf(1, "local config is invalid: %w", err)
		}
	}

	fmt.Println("configuration is valid")
	return nil
}
