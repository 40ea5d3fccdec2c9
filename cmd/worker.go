package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/otp-board/internal/board/client"
	"github.com/xkilldash9x/otp-board/internal/board/server"
	"github.com/xkilldash9x/otp-board/internal/browser/session"
	"github.com/xkilldash9x/otp-board/internal/config"
	"github.com/xkilldash9x/otp-board/internal/observability"
	"github.com/xkilldash9x/otp-board/internal/orchestrator"
)

func newWorkerCmd() *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs the browser worker that processes queued login jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			if err := cfg.ValidateWorker(); err != nil {
				return err
			}
			return runWorker(ctx, cfg, observability.GetLogger())
		},
	}

	workerCmd.Flags().Bool("headless", true, "start the browser headless (escalates to visible when blocked)")
	workerCmd.Flags().Bool("deep", false, "click through further calendar days when scanning slots")
	workerCmd.Flags().Int("max-days", 10, "maximum extra days to visit in a deep scan")
	workerCmd.Flags().String("board-url", "", "base URL of the board API (overrides config/env)")
	workerCmd.Flags().String("metrics", "", "address for the Prometheus endpoint, empty to disable")
	return workerCmd
}

// runWorker runs the orchestrator, and the metrics endpoint when configured,
// until ctx is done or either of them fails.
func runWorker(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	board, err := client.New(cfg.Board, logger)
	if err != nil {
		return fmt.Errorf("failed to create board client: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	manager := session.NewManager(cfg, logger)
	defer manager.Shutdown()

	orch, err := orchestrator.New(cfg, logger, orchestrator.FromManager(manager), board, orchestrator.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			return server.Serve(runCtx, srv, cfg.Server.ShutdownTimeout, logger)
		})
	}

	g.Go(func() error {
		// The metrics endpoint has nothing to report once the worker stops.
		defer stop()
		return orch.Run(runCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Worker stopped")
	return nil
}
