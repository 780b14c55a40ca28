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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/openscribe/console/internal/config"
	"github.com/openscribe/console/internal/history"
	"github.com/openscribe/console/internal/mcpserver"
	"github.com/openscribe/console/internal/stubapi"
)

var stubServerCmd = &cobra.Command{
	Use:   "stub-server",
	Short: "Run a local in-memory analysis API for development and testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		ticks, _ := cmd.Flags().GetInt("ticks")
		failCode, _ := cmd.Flags().GetString("fail-code")
		token, _ := cmd.Flags().GetString("token")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)
		if port == 0 {
			port = cfg.Server.StubPort
		}

		stub := stubapi.NewServer(stubapi.Options{
			Token:           token,
			TicksToComplete: ticks,
			FailCode:        failCode,
		})
		srv := &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", port),
			Handler:      stub.Handler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			printSuccess("Stub analysis API listening on http://%s", srv.Addr)
			if failCode != "" {
				printWarning("every job will fail with %s", failCode)
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("stub server: %w", err)
		case <-ctx.Done():
		}

		printStep("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve scribe tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)
		client := newJobClient(cfg)

		deps := mcpserver.Deps{
			Client: client,
			Poll:   cfg.PollSettings(),
		}
		if store, err := history.Open(cfg.Storage.DataDir); err != nil {
			slog.Warn("submission history unavailable", "error", err)
		} else {
			deps.History = store
			defer store.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stdio := server.NewStdioServer(mcpserver.New(deps))
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}

func init() {
	stubServerCmd.Flags().Int("port", 0, "listen port (default from config)")
	stubServerCmd.Flags().Int("ticks", 0, "status polls before a job completes")
	stubServerCmd.Flags().String("fail-code", "", "make every job fail with this error code")
	stubServerCmd.Flags().String("token", "", "require this bearer token on every request")
}
