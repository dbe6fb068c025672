package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads cfg in place whenever the file at path changes, until ctx is
// done. onReload (optional) runs after each reload that changed the config.
// The parent directory is watched so atomic-rename saves are picked up.
func Watch(ctx context.Context, path string, cfg *Config, onReload func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return fmt.Errorf("config watch: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("config watch: %w", err)
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			case <-fire:
				fire = nil
				reload(path, cfg, onReload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watch error", "error", err)
			}
		}
	}()
	return nil
}

func reload(path string, cfg *Config, onReload func(*Config)) {
	next, err := Load(path)
	if err != nil {
		slog.Warn("config: reload failed, keeping previous config", "path", path, "error", err)
		return
	}
	if next.Hash() == cfg.Hash() {
		return
	}
	cfg.ReplaceFrom(next)
	slog.Info("config: reloaded", "path", path)
	if onReload != nil {
		onReload(cfg)
	}
}
