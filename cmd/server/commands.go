package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/phrazzld/docreview-api/internal/config"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker loops and the operations endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.cleanup()
			return app.run(ctx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Run database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := postgres.Open(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return postgres.Migrate(ctx, db, command, log)
		},
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.Int("api_keys", len(cfg.LLM.APIKeys)),
		slog.Bool("redis_lease", cfg.Redis.URL != ""))
	return cfg, log, nil
}
