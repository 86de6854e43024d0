package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PromptWatcher hot-reloads the module registry when prompt or schema files
// change on disk. Because prompt text participates in cache keys, a reload
// invalidates stale cache entries without any explicit flush.
type PromptWatcher struct {
	registry *ModuleRegistry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
}

// NewPromptWatcher watches the registry's prompts directory tree.
func NewPromptWatcher(registry *ModuleRegistry) (*PromptWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(registry.promptsDir); err != nil {
		_ = w.Close()
		return nil, err
	}
	// Watch per-module subdirectories too; fsnotify is not recursive.
	for _, spec := range registry.AllModules() {
		dir := registry.promptsDir + "/" + spec.ID
		if err := w.Add(dir); err != nil {
			slog.Warn("Prompt watcher could not watch module dir", "dir", dir, "error", err)
		}
	}

	return &PromptWatcher{
		registry: registry,
		watcher:  w,
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine until ctx is cancelled.
func (p *PromptWatcher) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop closes the watcher.
func (p *PromptWatcher) Stop() {
	_ = p.watcher.Close()
	<-p.done
}

func (p *PromptWatcher) run(ctx context.Context) {
	defer close(p.done)

	var timer *time.Timer
	reload := func() {
		if err := p.registry.Reload(); err != nil {
			slog.Error("Prompt reload failed, keeping previous prompts", "error", err)
			return
		}
		slog.Info("Prompts reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors fire bursts of events per save; debounce them.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(p.debounce, reload)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Prompt watcher error", "error", err)
		}
	}
}
