package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/okian/racefeed/pkg/logger"
)

// Watch monitors path and calls onChange with the freshly loaded Config each
// time the file is written or replaced. It blocks until ctx is cancelled.
// A reload that fails to load or validate is logged and the previous config
// stays in effect.
func Watch(ctx context.Context, path string, onChange func(context.Context, *Config)) error {
	log := logger.Get().Named("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatchConfig, err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so atomic saves (write temp + rename) are seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWatchConfig, dir, err)
	}
	target := filepath.Clean(path)

	log.Info(ctx, "watching config for changes", logger.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadFile(ctx, path)
			if err != nil {
				log.Error(ctx, "config reload failed, keeping previous config",
					logger.String("path", path), logger.Error(err))
				continue
			}

			log.Info(ctx, "config reloaded", logger.String("path", path), logger.Int("events", len(cfg.Events)))
			onChange(ctx, cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(ctx, "config watcher error", logger.Error(err))
		}
	}
}
