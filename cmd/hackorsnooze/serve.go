package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphabot-ai/hackorsnooze/internal/app"
	"github.com/alphabot-ai/hackorsnooze/internal/auth"
	"github.com/alphabot-ai/hackorsnooze/internal/client"
	"github.com/alphabot-ai/hackorsnooze/internal/config"
	httpapp "github.com/alphabot-ai/hackorsnooze/internal/http"
	"github.com/alphabot-ai/hackorsnooze/internal/rate"
	"github.com/alphabot-ai/hackorsnooze/internal/store/sqlite"
)

const (
	sweepInterval = 10 * time.Minute
	// In-memory state of a quiet session is dropped after this long and
	// rebuilt from the stored session on its next request.
	registryIdle = time.Hour
)

func newServeCmd(a *cliApp) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg, a.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HOS_ADDR)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.HashSecret == "dev-hash-secret" {
		log.Warn("HOS_HASH_SECRET is the development default; set it in production")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter := rate.NewMemory()
	authSvc := auth.NewService(store, cfg.HashSecret, cfg.SessionTTL)
	api := client.New(cfg.APIBaseURL, cfg.APITimeout, log)
	registry := app.NewRegistry()
	svc := app.NewService(api, registry, cfg.PageSize, log)

	server, err := httpapp.NewServer(svc, authSvc, limiter, cfg, log)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweep(ctx, log, authSvc, limiter, registry)

	errCh := make(chan error, 1)
	go func() {
		log.Info("hackorsnooze listening", "addr", cfg.Addr, "api", cfg.APIBaseURL, "version", cfg.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// sweep drops expired sessions, stale rate buckets and idle in-memory state
// until ctx ends.
func sweep(ctx context.Context, log *slog.Logger, authSvc *auth.Service, limiter *rate.MemoryLimiter, registry *app.Registry) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sessions, err := authSvc.Sweep(ctx)
		if err != nil {
			log.Warn("sweep sessions", "error", err)
		}
		buckets := limiter.Sweep()
		states := registry.Prune(registryIdle)
		log.Debug("sweep", "sessions", sessions, "buckets", buckets, "states", states)
	}
}
