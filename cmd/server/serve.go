package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-signaling/internal/app"
	"github.com/vovakirdan/wirechat-signaling/internal/config"
	"github.com/vovakirdan/wirechat-signaling/internal/log"
)

func serveCmd() *cobra.Command {
	var overrides config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootstrap := log.New("info", "console")
			cfg, path, err := config.Load(bootstrap, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.Log.Level, cfg.Log.Format)
			logger.Info().Str("config", path).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&overrides.Server.Addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&overrides.Server.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.Server.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&overrides.Log.Level, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&overrides.Storage.DatabasePath, "db", "", "sqlite database path")
	flags.StringVar(&overrides.Presence.RedisAddr, "redis", "", "redis address for the presence mirror")

	return cmd
}
