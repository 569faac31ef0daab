package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/aura/internal/alert"
	"github.com/jmylchreest/aura/internal/audio"
	"github.com/jmylchreest/aura/internal/config"
	"github.com/jmylchreest/aura/internal/graylog"
	"github.com/jmylchreest/aura/internal/sonify"
)

// run loads the configuration at path and sonifies until ctx is cancelled.
// A cancelled context is a clean shutdown and returns nil.
func run(ctx context.Context, path string, logger *slog.Logger) error {
	logger.Info("starting aura", "version", version, "config", path)

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	client, err := graylog.NewClient(cfg.Graylog, logger)
	if err != nil {
		return err
	}

	manager := audio.NewManager(cfg, logger)
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start audio: %w", err)
	}
	defer manager.Stop()

	loop := sonify.New(sonify.OptionsFromConfig(cfg), client, manager, logger)
	if cfg.Alerts.Enabled {
		notifier := alert.NewNotifier(logger)
		defer notifier.Close()
		loop.SetAlerter(notifier)
	}

	logger.Info("sampling graylog",
		"endpoint", client.Endpoint(),
		"streams", len(cfg.Graylog.Streams),
		"interval", cfg.Interval(),
		"mode", cfg.Graylog.QueryMode,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		// Losing the watcher only stops hot reload; keep sonifying.
		if err := manager.Watch(gctx); err != nil {
			logger.Warn("sound file watcher unavailable", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !sonify.IsCancelled(err) {
		return err
	}

	logger.Info("aura stopped")
	return nil
}
