package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/batchsync/pkg/config"
	"github.com/Sternrassler/batchsync/pkg/server"
	"github.com/Sternrassler/batchsync/pkg/session"
	"github.com/Sternrassler/batchsync/pkg/status"
	"github.com/Sternrassler/batchsync/pkg/transport"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registered handlers over HTTP",
		Long: `Start the batch server. It accepts one batch per POST /batch request and
executes it against the registered handlers.

Sessions can also run inside the server: POST /sessions/{handler}/start starts
one and POST /sessions/{handler}/abort stops it after its current batch. When
Redis is configured the server also exposes the live session status board and
forwards abort requests to sessions running in other processes.`,
		RunE: a.runServe,
	}

	cmd.Flags().String("address", "", "Address to listen on (default :8080)")
	a.bindFlags(cmd.Flags(), map[string]string{"server.address": "address"})

	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := a.connectRedis(ctx)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	srvCfg, err := a.newServerConfig(ctx, rdb)
	if err != nil {
		return err
	}

	router, err := server.NewRouter(srvCfg,
		server.WithMiddlewares(
			middleware.RealIP,
			server.LoggingMiddleware(a.logger),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	ln, err := net.Listen("tcp", a.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.Address, err)
	}
	return serve(ctx, ln, router, a.cfg.Server, a.logger)
}

// newServerConfig wires the registry, executor and server-side sessions.
// Sessions started on the server are bounded by ctx. rdb may be nil.
func (a *app) newServerConfig(ctx context.Context, rdb *redis.Client) (server.Config, error) {
	reg, err := a.newRegistry()
	if err != nil {
		return server.Config{}, err
	}

	exec := a.newExecutor()
	logger := a.logger
	sessionCfg := session.Config{Logger: &logger}
	srvCfg := server.Config{
		Registry:       reg,
		Executor:       exec,
		SessionContext: ctx,
		Logger:         a.logger,
	}
	if rdb != nil {
		tracker := status.NewTracker(rdb, a.cfg.Redis.StatusTTL, a.logger)
		srvCfg.Redis = rdb
		srvCfg.Status = tracker
		sessionCfg.Observer = status.NewObserver(tracker)
		sessionCfg.AbortSource = tracker
	}
	srvCfg.Sessions = session.NewOrchestrator(transport.NewLocal(reg, exec), sessionCfg)
	return srvCfg, nil
}

// serve runs an HTTP server on ln until ctx is done, then shuts it down
// gracefully within cfg.ShutdownTimeout.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, cfg config.ServerConfig, logger zerolog.Logger) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("address", ln.Addr().String()).Msg("Server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		logger.Info().Msg("Server shutdown complete")
		return nil
	})

	return g.Wait()
}
