package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ironsheep/astrophot/internal/calibration"
	"github.com/ironsheep/astrophot/internal/logging"
	"github.com/ironsheep/astrophot/internal/metrics"
	"github.com/ironsheep/astrophot/internal/pipeline"
	"github.com/ironsheep/astrophot/internal/server"
)

func serveCommand(g *globalFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline as MCP tools over stdin/stdout",
		Long: "Start an MCP server on stdin/stdout. Configure it in your MCP client. " +
			"Logs go to stderr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(g, cmd)
			if err != nil {
				return err
			}
			logger := slog.Default()

			svc, err := pipeline.NewCalibrationService(cfg.Calibration, logger)
			if err != nil {
				return err
			}

			opts := []server.Option{
				server.WithConfig(cfg),
				server.WithCalibration(svc),
				server.WithLogger(logger),
			}

			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				registry.MustRegister(collectors.NewGoCollector())
				m, err := metrics.NewPipelineMetrics(registry)
				if err != nil {
					return err
				}
				if hs, ok := svc.(*calibration.HTTPService); ok {
					m.WatchCalibrationCache(func() (hits, misses int64) {
						st := hs.Stats()
						return st.Hits, st.Misses
					})
				}
				opts = append(opts, server.WithMetrics(m))

				stop := serveMetrics(ctx, metricsAddr, m.Handler(), logging.ForService("metrics"))
				defer stop()
			}

			server.Version = Version
			logger.Debug("starting MCP server", "version", Version, "commit", GitCommit)
			err = server.New(opts...).Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	addPipelineFlags(cmd.Flags())
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9090")
	return cmd
}

// serveMetrics starts an HTTP server for /metrics and returns a function that
// shuts it down.
func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
}
