// Command nexus-hub runs the dispatch fabric: it listens for worker
// connections, exposes the HTTP/WS front end, and drives the agent loop
// against the configured LLM provider. Grounded on cmd/nexus's
// cobra-based entry point style and the Python prototype's
// server.py `__main__` (reads PORT, defaults to 8080).
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

	"github.com/spf13/cobra"

	"github.com/nexushub/toolhub/internal/convo"
	"github.com/nexushub/toolhub/internal/front"
	"github.com/nexushub/toolhub/internal/hub"
	"github.com/nexushub/toolhub/internal/hubconfig"
	"github.com/nexushub/toolhub/internal/session"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "nexus-hub",
		Short: "Run the nexus tool-dispatch hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML hub configuration file")
	return root
}

func runServe(ctx context.Context, configPath string) error {
	logger := slog.Default()

	cfg, err := hubconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("nexus-hub: load config: %w", err)
	}

	sessionStore, err := session.New(cfg.SessionDir, logger)
	if err != nil {
		return fmt.Errorf("nexus-hub: init session store: %w", err)
	}

	h := hub.New(logger)

	var provider convo.Provider = convo.NewAnthropicProvider(cfg.Provider.APIKey)

	server := front.New(front.Config{
		Hub:       h,
		Sessions:  sessionStore,
		Provider:  provider,
		Model:     cfg.Provider.Model,
		System:    cfg.Provider.System,
		MaxTokens: cfg.Provider.MaxTokens,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Mux(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("nexus-hub listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("nexus-hub shutting down")
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
