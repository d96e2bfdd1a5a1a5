package routesynccmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"routesync/internal/config"
	"routesync/internal/dispatch"
	"routesync/internal/healthz"
	"routesync/internal/merge"
	"routesync/internal/observer"
	"routesync/internal/reload"
	"routesync/internal/rsynclog"
	"routesync/internal/rulecache"
	"routesync/internal/upstreamclient"
)

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the observe-dispatch-merge-reload pipeline in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutesync(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "routesync.yaml", "path to the YAML configuration file")
	return cmd
}

// runRoutesync assembles every component and blocks until ctx is
// cancelled (SIGINT/SIGTERM), in the spirit of caddy.TrapSignals but
// scoped to what this daemon needs: cancel the observer loop, let an
// in-flight pipeline run finish or abort mid-stage (spec.md §5).
func runRoutesync(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return newFatalf(1, "loading configuration: %w", err)
	}

	log, err := rsynclog.New(cfg.LogLevel)
	if err != nil {
		return newFatalf(1, "initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := upstreamclient.New(cfg, log)
	cache, err := rulecache.New(cfg, log)
	if err != nil {
		return newFatalf(1, "initializing rule-set cache: %w", err)
	}

	pipeline := observer.Pipeline{
		Dispatcher: dispatch.New(cfg, client, cache, log),
		Merger:     merge.New(log),
		Reloader:   reload.New(cfg.DownstreamReloadCommand, log),
		FinalDir:   cfg.DownstreamRulesPath,
	}

	obs := observer.New(cfg, client, pipeline, log)

	var healthSrv *healthz.Server
	if cfg.HealthAddr != "" {
		healthSrv = healthz.New(cfg.HealthAddr, client, log)
		go func() {
			if err := healthSrv.Run(ctx); err != nil {
				log.Warn("health server stopped", zap.Error(err))
			}
		}()
	}

	log.Info("routesync starting", zap.String("upstream", cfg.UpstreamAPIURL), zap.String("rules_path", cfg.DownstreamRulesPath))

	if err := obs.Run(ctx); err != nil && ctx.Err() == nil {
		return newFatalf(1, "observer loop failed: %w", err)
	}

	log.Info("routesync shutting down")
	return nil
}
