package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/carbonplane/internal/observability"
)

// shutdownGrace bounds the HTTP server drain on termination.
const shutdownGrace = 10 * time.Second

// NewServeCommand runs the data plane: scheduler, event bus, and the
// observability HTTP listener (health and metrics only).
func NewServeCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the carbonplane data plane",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Scheduler.Enabled {
				if err = a.scheduler.Start(); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				defer a.scheduler.Stop()
			}

			mux := http.NewServeMux()
			mux.Handle("/healthz", observability.HealthHandler())
			mux.Handle("/readyz", observability.ReadyHandler(a.readyChecks()...))

			if a.cfg.Metrics.Enabled {
				metricsHandler, meter, metricsErr := observability.PrometheusHandler()
				if metricsErr != nil {
					return metricsErr
				}

				if _, rmErr := observability.NewRuntimeMetrics(meter); rmErr != nil {
					return rmErr
				}

				if _, pmErr := observability.NewPipelineMetrics(meter); pmErr != nil {
					return pmErr
				}

				mux.Handle(a.cfg.Metrics.Path, metricsHandler)
			}

			server := &http.Server{
				Addr:         net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
				Handler:      mux,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				IdleTimeout:  a.cfg.Server.IdleTimeout,
			}

			serveErr := make(chan error, 1)

			go func() {
				a.logger.Info("server listening", "addr", server.Addr)

				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case err = <-serveErr:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")

			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()

			return server.Shutdown(drainCtx)
		},
	}
}

// readyChecks probes the external collaborators the configuration enables.
func (a *app) readyChecks() []observability.ReadyCheck {
	var checks []observability.ReadyCheck

	if a.postgres != nil {
		checks = append(checks, a.postgres.Ping)
	}

	if a.redis != nil {
		checks = append(checks, func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	return checks
}
