package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/hybpiper/internal/config"
	"github.com/me/hybpiper/internal/server"
)

func newServeCmd() *cobra.Command {
	cfg := config.DefaultServerConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history as a read-only JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	cmd.Flags().DurationVar(&cfg.ShutdownGrace, "shutdown_grace", cfg.ShutdownGrace, "Time allowed for in-flight requests on shutdown")
	cmd.Flags().StringVar(&cfg.HistoryDB, "history_db", cfg.HistoryDB, "Run history database")
	return cmd
}

// serve runs the history API until ctx is cancelled.
func serve(ctx context.Context, cfg config.ServerConfig) error {
	st, err := openHistory(ctx, cfg.HistoryDB, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer st.Close()
	logger.Info("database ready", "path", cfg.HistoryDB)

	srv := server.New(cfg, st, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
