package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/soundlens/soundlens/internal/server"
)

// Serve runs the long-lived HTTP sync service until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	r.config = r.loadConfig(cmd.String("config"))

	stack, err := r.buildStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	resolve := server.HeaderUserResolver("X-User-ID")

	router := server.NewBasicRouter()
	router.Use(server.LoggingMiddleware(r.logger))
	router.Handler(server.NewSyncHandler(stack.syncer, stack.cache, resolve, r.config.Cache.StatusTTL(), r.logger))
	router.Handler(server.NewConnectHandler(stack.auth, stack.spotify, resolve, r.logger))

	addr := cmd.String("addr")
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	}

	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Info("sync service listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		r.logger.Info("shutting down", "signal", sig)
	case <-ctx.Done():
		r.logger.Info("shutting down", "reason", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	return nil
}
