package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/keyshop-fulfillment/docs"
	httpapi "github.com/tbourn/keyshop-fulfillment/internal/http"
	"github.com/tbourn/keyshop-fulfillment/internal/observability"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue workers, sweeper and flag reloader",
		Long: `Start the fulfillment service.

The process serves the webhook, checkout and admin routes, runs the job
queue workers, sweeps expired reservations and unpaid orders on
SWEEP_INTERVAL, and keeps the feature flag snapshot fresh. SIGINT/SIGTERM
drain in-flight requests and jobs before exiting.

Examples:
  keyshop serve
  keyshop serve --migrate=false --env-file /etc/keyshop.env`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	return cmd
}

func runServe(parent context.Context, migrate bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := wire()
	if err != nil {
		return err
	}
	defer cleanup()
	cfg := a.Config

	shutdownOTel, err := observability.SetupOTel(ctx, cfg, Version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	if migrate {
		if err := repo.AutoMigrate(a.DB); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.Version = Version
	r := gin.New()
	httpapi.RegisterRoutes(r, a.Handlers(), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	// Background work outlives the request context so in-flight jobs settle
	// after the HTTP server stopped accepting.
	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Run(bgCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", Version).Str("db", cfg.DBDriver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancelBG()
	wg.Wait()
	log.Info().Msg("stopped")
	return serveErr
}
