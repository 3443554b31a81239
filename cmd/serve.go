package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qwenauth/internal/server"
	"qwenauth/internal/session"
	"qwenauth/internal/tokenmanager"
	"qwenauth/pkg/logging"
)

var serveAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the device-code flow to browsers over HTTP",
		Long: `Runs the HTTP server that mediates the Qwen device-code flow for a
web frontend. The frontend requests a device code, shows the user the
verification URL, and polls the status endpoint until the flow
resolves. Obtained tokens are persisted and auto-refreshed for the
lifetime of the process.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	client := newOAuthClient(cfg)
	manager := tokenmanager.New(client, store)
	sessions := session.NewManager()

	srv := server.New(server.Options{
		Addr:           cfg.ListenAddr,
		Client:         client,
		Sessions:       sessions,
		Sink:           manager,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Serve", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Serve", "HTTP shutdown incomplete: %v", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Serve", "Token manager shutdown incomplete: %v", err)
	}
	return nil
}
