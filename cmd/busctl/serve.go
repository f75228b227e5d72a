package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	eventbus "github.com/glimte/mmate-eventbus"
	"github.com/glimte/mmate-eventbus/health"
	"github.com/glimte/mmate-eventbus/internal/rabbitmq"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// stateLogger logs connection state changes
type stateLogger struct {
	logger *slog.Logger
}

func (s stateLogger) OnConnected() {
	s.logger.Info("connected to broker")
}

func (s stateLogger) OnDisconnected(err error) {
	s.logger.Warn("disconnected from broker", "error", err)
}

func (s stateLogger) OnReconnecting(attempt int) {
	s.logger.Info("reconnecting to broker", "attempt", attempt)
}

func newRouter(checks *health.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", health.NewHandler(checks, 5*time.Second))
	r.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive"))
	})
	return r
}

// consumingBus is the part of the bus keepConsuming drives
type consumingBus interface {
	Consuming() bool
	Start(ctx context.Context) error
}

// keepConsuming restarts bus after its consumers stopped, once the connection
// is back. It returns when ctx is done.
func keepConsuming(ctx context.Context, bus consumingBus, conn interface{ IsClosed() bool }, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if bus.Consuming() || conn.IsClosed() {
				continue
			}
			if err := bus.Start(ctx); err != nil {
				logger.Warn("failed to restart consumers", "error", err)
				continue
			}
			logger.Info("consumers restarted")
		}
	}
}

func newServeCmd(g *globals) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume ping events and serve metrics and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			conn := rabbitmq.NewConnectionManager(cfg.RabbitMQ.URL,
				rabbitmq.WithLogger(logger),
				rabbitmq.WithReconnectDelay(cfg.RabbitMQ.ReconnectDelay),
				rabbitmq.WithMaxRetries(cfg.RabbitMQ.MaxRetries),
			)
			conn.AddStateListener(stateLogger{logger: logger})
			if err := conn.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to %s: %w", rabbitmq.SanitizeURL(cfg.RabbitMQ.URL), err)
			}
			defer conn.Close()

			options := append(cfg.Options(logger),
				pingTopology(g, queue),
				eventbus.SubscribeFunc[Ping](queue, logPing(logger)),
			)
			bus, err := eventbus.New(conn, options...)
			if err != nil {
				return err
			}
			defer bus.Close()

			checks := health.NewRegistry()
			checks.Register(health.NewConnectionChecker(conn))
			checks.Register(health.NewConsumerChecker(bus))

			server := &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           newRouter(checks),
				ReadHeaderTimeout: 5 * time.Second,
			}

			if err := bus.Start(ctx); err != nil {
				return err
			}
			logger.Info("waiting for pings, press Ctrl+C to stop", "queue", queue)

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			group.Go(func() error {
				return keepConsuming(ctx, bus, conn, cfg.RabbitMQ.ReconnectDelay, logger)
			})
			group.Go(func() error {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return server.Shutdown(shutdownCtx)
			})
			return group.Wait()
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "busctl.ping", "Queue to consume")
	return cmd
}
