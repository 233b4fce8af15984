package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joules/server/audio"
	"github.com/joules/server/logger"
	"github.com/joules/server/startup"
	"github.com/joules/server/watch"
	"github.com/joules/server/ws"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port    int
		token   string
		devMode bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions and meeting history over WebSocket and REST",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			if token != "" {
				a.cfg.Server.AuthToken = token
			}
			if devMode {
				a.cfg.Server.DevMode = true
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if a.cfg.Server.AuthToken == "" {
				return errors.New("AUTH_TOKEN is required (use --auth-token flag or AUTH_TOKEN env)")
			}
			return runServe(a)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default 8080)")
	cmd.Flags().StringVar(&token, "auth-token", "", "authentication token (required)")
	cmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode")

	return cmd
}

func runServe(a *app) error {
	cfg := a.cfg

	closeLog, err := logger.Init(logger.Config{
		DataDir: cfg.DataDir,
		DevMode: cfg.Server.DevMode,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()

	store, err := a.openStore(ctx)
	if err != nil {
		slog.Error("failed to initialize meeting store", "error", err)
		return err
	}
	defer store.close()

	// Picks up history edits made by CLI commands while the server runs.
	slotWatcher := watch.NewSlotWatcher(store.path, func(ctx context.Context) { store.Load(ctx) })
	if err := slotWatcher.Start(); err != nil {
		slog.Error("failed to start slot watcher", "error", err)
		return err
	}

	listWatcher := watch.NewMeetingListWatcher(store)
	if err := listWatcher.Start(); err != nil {
		slog.Error("failed to start meeting list watcher", "error", err)
		return err
	}

	var warnings []string
	ffmpeg := a.newFFmpeg()
	if err := ffmpeg.Check(); err != nil {
		slog.Warn("recording unavailable", "error", err)
		warnings = append(warnings, "ffmpeg not found; recording disabled")
	}

	wsHandler := ws.NewRPCHandler(cfg.Server.AuthToken, version, cfg.Server.DevMode, ws.Dependencies{
		Store:       store,
		Backend:     a.newBackend(),
		Device:      audio.Exclusive(ffmpeg),
		ListWatcher: listWatcher,
	})
	handler := newHandler(cfg.Server.AuthToken, cfg.Server.AllowedOrigins, store, wsHandler)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		listWatcher.Stop()
		slotWatcher.Stop()
		close(shutdownDone)
	}()

	startup.PrintBanner(startup.BannerOptions{
		Version:    version,
		LocalURL:   "http://localhost:" + strconv.Itoa(cfg.Server.Port),
		BackendURL: cfg.Backend.URL,
		Store:      a.describeStore(store),
		Warnings:   warnings,
	})
	startup.PrintFooter()

	slog.Info("server starting",
		"port", cfg.Server.Port,
		"dataDir", cfg.DataDir,
		"backend", cfg.Backend.URL,
		"store", cfg.Store.Backend,
		"devMode", cfg.Server.DevMode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		return err
	}
	<-shutdownDone
	slog.Info("server stopped")
	return nil
}
