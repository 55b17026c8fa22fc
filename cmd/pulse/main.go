// Command pulse runs the metrics and alerting engine behind an HTTP API.
//
//	pulse serve --config /etc/kubilitics/pulse.yaml
//	pulse validate --config ./pulse.yaml
//
// Every setting can also come from a PULSE_* environment variable, e.g.
// PULSE_SERVER_PORT=9000 or PULSE_STORAGE_TYPE=sqlite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-pulse/internal/config"
	"github.com/kubilitics/kubilitics-pulse/internal/engine"
	"github.com/kubilitics/kubilitics-pulse/internal/logging"
	"github.com/kubilitics/kubilitics-pulse/internal/server"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "/etc/kubilitics/pulse.yaml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pulse: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "pulse",
		Short:         "Metrics, alerting, insights and health tracking for Kubilitics",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the engine and the HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration, then exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := loadConfig(cmd.Context(), configPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				return nil
			},
		},
	)
	return cmd
}

func loadConfig(ctx context.Context, path string) (config.ConfigManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	cfg := mgr.Get(ctx)

	logger, level, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting pulse",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Type),
		zap.String("events", cfg.Events.Backend),
	)

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop(context.Background())
		return fmt.Errorf("start engine: %w", err)
	}

	srv := server.New(cfg, eng, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		updates := mgr.Watch(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-updates:
				var lvl zapcore.Level
				if err := lvl.UnmarshalText([]byte(next.Logging.Level)); err == nil {
					level.SetLevel(lvl)
				}
				eng.Reconfigure(&next)
				logger.Info("Configuration reloaded", zap.String("log_level", lvl.String()))
			}
		}
	})

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("HTTP server failed", zap.Error(runErr))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Warn("Engine shutdown incomplete", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("Pulse stopped")
	return runErr
}
