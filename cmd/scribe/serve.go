package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/scribe/internal/app"
	"github.com/ent0n29/scribe/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		addr, _ := cmd.Flags().GetString("addr")
		return serve(cmd.Context(), configPath, addr)
	},
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "path to a YAML config file (env vars still override it)")
	serveCmd.Flags().String("addr", "", "listen address, overrides APP_BIND_ADDR")
}

func serve(parent context.Context, configPath, addr string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(addr) != "" {
		cfg.BindAddr = strings.TrimSpace(addr)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	for _, w := range warnings {
		logger.Warn(w)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.BindAddr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful http shutdown failed", "err", err)
			_ = httpServer.Close()
		}
		if err := built.Coordinator.Shutdown(shutdownCtx); err != nil {
			logger.Warn("pipelines still running at shutdown were cancelled", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
