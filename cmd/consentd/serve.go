package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentauth/consentd/internal/app"
	"github.com/agentauth/consentd/internal/config"
	"github.com/agentauth/consentd/internal/http/server"
	"github.com/agentauth/consentd/internal/observability/logger"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servicio HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       "info",
				ServiceName: "consentd",
				Version:     app.Version,
			})
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(server.Options{
				Addr:            cfg.Server.Addr,
				Handler:         a.Handler,
				ShutdownTimeout: a.ShutdownTimeout,
			})
			return srv.Run(ctx)
		},
	}
}
