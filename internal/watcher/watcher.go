// Package watcher watches the configuration file and triggers hot reloads.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/clipify/internal/config"
	log "github.com/sirupsen/logrus"
)

const configReloadDebounce = 150 * time.Millisecond

// ReloadFunc receives the new configuration and the one it replaces.
type ReloadFunc func(newCfg, oldCfg *config.Config)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	configPath string
	onReload   ReloadFunc

	mu             sync.Mutex
	config         *config.Config
	lastConfigHash string

	reloadMu    sync.Mutex
	reloadTimer *time.Timer
}

// NewWatcher creates a watcher for configPath starting from current.
func NewWatcher(configPath string, current *config.Config, onReload ReloadFunc) *Watcher {
	w := &Watcher{
		configPath: filepath.Clean(configPath),
		onReload:   onReload,
		config:     current,
	}
	if hash, err := hashFile(w.configPath); err == nil {
		w.lastConfigHash = hash
	}
	return w
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config
}

// Run watches until ctx ends. The parent directory is watched so editors
// that replace the file atomically are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	dir := filepath.Dir(w.configPath)
	if err = fsw.Add(dir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", dir, err)
	}
	log.Debugf("watching config file: %s", w.configPath)
	defer w.stopReloadTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case errWatch, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.configPath {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	log.Debugf("config file event: %s", event.Op)
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.reloadMu.Lock()
		w.reloadTimer = nil
		w.reloadMu.Unlock()
		w.ReloadIfChanged()
	})
}

func (w *Watcher) stopReloadTimer() {
	w.reloadMu.Lock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
		w.reloadTimer = nil
	}
	w.reloadMu.Unlock()
}
