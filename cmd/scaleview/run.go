package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/shadowscale/internal/api"
	"github.com/talgya/shadowscale/internal/config"
	"github.com/talgya/shadowscale/internal/engine"
	"github.com/talgya/shadowscale/internal/persistence"
)

var noHistory bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the simulation and serve the mirrored world",
	Args:  cobra.NoArgs,
	RunE:  runViewer,
}

func init() {
	runCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not persist turn history to SQLite")
}

func runViewer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := background(cmd)
	defer stop()

	var opts engine.Options
	var db *persistence.DB
	if !noHistory && cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err = persistence.Open(cfg.DBPath, cfg.HistorySize)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.DBPath)
		opts.Sink = db
	}

	client := engine.NewClient(cfg, opts)
	if db != nil {
		if err := db.Restore(client.Store); err != nil {
			slog.Warn("history not restored", "error", err)
		}
	}

	for _, ch := range config.Channels {
		slog.Info("endpoint", "channel", ch, "addr", cfg.Endpoint(ch).String())
	}

	server := api.NewServer(client, cfg.HTTPAddr, api.NewRateLimiter(cfg.RateLimit, cfg.RateBurst))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		client.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, config.DefaultDebounce, func(next config.Config) {
				if level, err := config.ParseLevel(next.LogLevel); err == nil {
					logLevel.Set(level)
				}
				if err := client.Query(gctx, func(c *engine.Client) { c.Reconfigure(next) }); err != nil {
					slog.Debug("reconfigure skipped", "error", err)
				}
			})
		})
	}

	err = g.Wait()
	slog.Info("scaleview stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// background is used by commands that run until interrupted.
func background(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
