package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/board/server"
	"github.com/xkilldash9x/otp-board/internal/config"
	"github.com/xkilldash9x/otp-board/internal/observability"
	"github.com/xkilldash9x/otp-board/internal/store"
)

func newServeCmd() *cobra.Command {
	var autoMigrate bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the board: the login request form, the OTP relay and the worker API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			return runServer(ctx, cfg, autoMigrate, observability.GetLogger())
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (overrides config/env)")
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply pending schema migrations before serving")
	return serveCmd
}

func runServer(ctx context.Context, cfg *config.Config, autoMigrate bool, logger *zap.Logger) error {
	if autoMigrate {
		if err := store.Migrate(cfg.Database.URL, "up"); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, cfg.OTP.TTL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}

	board := server.New(st, cfg.Server, observability.NewMetrics(prometheus.NewRegistry()), logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           board.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.Serve(ctx, srv, cfg.Server.ShutdownTimeout, logger)
}
