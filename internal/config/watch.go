package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is re-read.
const DefaultDebounce = 500 * time.Millisecond

// Watch re-loads path whenever it changes and hands the result to apply.
// The parent directory is watched so editors that replace the file on save
// are still seen. Files that fail to load are logged and skipped. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, apply func(Config)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	slog.Info("watching config", "path", abs)

	ticker := time.NewTicker(debounce / 5)
	defer ticker.Stop()

	var changed time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				changed = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)

		case <-ticker.C:
			if changed.IsZero() || time.Since(changed) < debounce {
				continue
			}
			changed = time.Time{}
			cfg, err := Load(abs)
			if err != nil {
				slog.Warn("config reload failed", "path", abs, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", abs, "log_level", cfg.LogLevel, "reconnect_interval", cfg.ReconnectInterval)
			apply(cfg)
		}
	}
}
