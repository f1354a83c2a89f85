// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultWatchDebounce = 300 * time.Millisecond

// BindingsChangedFunc is called with the bindings added or changed by a
// reload of the persisted record.
type BindingsChangedFunc func(ctx context.Context, changed []Binding)

// BindingWatcher reloads the binding record when it changes on disk.
// Changes are debounced to collapse editor write bursts.
type BindingWatcher struct {
	store    *BindingStore
	onChange BindingsChangedFunc
	debounce time.Duration
	log      zerolog.Logger
}

// NewBindingWatcher creates a watcher for the store's record.
func NewBindingWatcher(store *BindingStore, onChange BindingsChangedFunc, log zerolog.Logger) *BindingWatcher {
	return &BindingWatcher{
		store:    store,
		onChange: onChange,
		debounce: defaultWatchDebounce,
		log:      log.With().Str("component", "binding_watcher").Logger(),
	}
}

// Run watches the record until ctx is cancelled. The parent directory is
// watched so atomic replacements of the file are seen.
func (bw *BindingWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	path, err := filepath.Abs(bw.store.Path())
	if err != nil {
		return fmt.Errorf("failed to resolve bindings path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	bw.log.Info().Str("path", path).Msg("Watching bindings record")

	debounce := time.NewTimer(bw.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(bw.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			bw.log.Warn().Err(err).Msg("File watcher error")
		case <-debounce.C:
			bw.reload(ctx)
		}
	}
}

func (bw *BindingWatcher) reload(ctx context.Context) {
	changed, err := bw.store.Reload()
	if err != nil {
		bw.log.Error().Err(err).Msg("Failed to reload bindings record")
		return
	}
	bw.log.Info().
		Int("changed", len(changed)).
		Int("total", bw.store.Len()).
		Msg("Bindings record reloaded")
	if len(changed) > 0 && bw.onChange != nil {
		bw.onChange(ctx, changed)
	}
}
