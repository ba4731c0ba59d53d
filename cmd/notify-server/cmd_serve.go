package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/squadx-live/notify-server/internal/config"
	"github.com/squadx-live/notify-server/internal/push"
	"github.com/squadx-live/notify-server/internal/server"
	"github.com/squadx-live/notify-server/internal/store"
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the push relay HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, st)
}

func newServer(cfg config.Config, st *store.Store) *server.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	burst := int(math.Ceil(cfg.SubscribeRate))
	return &server.Server{
		Store: st,
		Sender: &push.Sender{
			Store: st,
			Keys: push.Keys{
				PublicKey:  cfg.VAPIDPublicKey,
				PrivateKey: cfg.VAPIDPrivateKey,
				Contact:    cfg.VAPIDContact,
			},
			Logger:      logger,
			Metrics:     push.NewMetrics(reg),
			Concurrency: cfg.PushConcurrency,
			TTL:         cfg.PushTTL,
		},
		AdminKey:         cfg.AdminKey,
		WelcomeMessage:   cfg.WelcomeMessage,
		Logger:           logger,
		SubscribeLimiter: rate.NewLimiter(rate.Limit(cfg.SubscribeRate), max(burst, 1)),
		Gatherer:         reg,
	}
}

func serve(ctx context.Context, cfg config.Config, st *store.Store) error {
	srv := newServer(cfg, st)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.NewRouter(cfg.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	// Stop accepting new connections.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight notifications")
	srv.Sender.WG.Wait()

	logger.Info("shutdown complete")
	return nil
}

func init() {
	// serve is the default when no subcommand is given.
	rootCmd.RunE = runServe
}
