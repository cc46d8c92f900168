package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/router-for-me/clipify/internal/config"
	log "github.com/sirupsen/logrus"
)

// ReloadIfChanged reloads the configuration when the file content differs
// from the last load. It reports whether a reload was applied.
func (w *Watcher) ReloadIfChanged() bool {
	newHash, err := hashFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return false
	}
	if newHash == "" {
		log.Debug("ignoring empty config file write event")
		return false
	}

	w.mu.Lock()
	unchanged := w.lastConfigHash == newHash
	w.mu.Unlock()
	if unchanged {
		log.Debug("config file content unchanged (hash match), skipping reload")
		return false
	}

	newCfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config: %v", err)
		return false
	}

	w.mu.Lock()
	oldCfg := w.config
	if oldCfg != nil {
		// The data dir is fixed for the lifetime of the process.
		newCfg.DataDir = oldCfg.DataDir
	}
	w.config = newCfg
	w.lastConfigHash = newHash
	w.mu.Unlock()

	for _, change := range ConfigChanges(oldCfg, newCfg) {
		log.Infof("config: %s", change)
	}
	if w.onReload != nil {
		w.onReload(newCfg, oldCfg)
	}
	return true
}

// ConfigChanges lists the settings that differ between two configurations.
// Secrets are reported by name only.
func ConfigChanges(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var changes []string
	add := func(name string, before, after any) {
		if before != after {
			changes = append(changes, fmt.Sprintf("%s: %v -> %v", name, before, after))
		}
	}
	add("debug", oldCfg.Debug, newCfg.Debug)
	add("environment", oldCfg.Environment, newCfg.Environment)
	add("api-base-url", oldCfg.APIBaseURL, newCfg.APIBaseURL)
	add("proxy-url", oldCfg.ProxyURL, newCfg.ProxyURL)
	add("store.type", oldCfg.Store.Type, newCfg.Store.Type)
	add("bridge.enabled", oldCfg.Bridge.Enabled, newCfg.Bridge.Enabled)
	add("auto-refresh.interval-seconds", oldCfg.AutoRefresh.IntervalSeconds, newCfg.AutoRefresh.IntervalSeconds)
	add("clipboard.history-size", oldCfg.Clipboard.HistorySize, newCfg.Clipboard.HistorySize)
	add("clipboard.poll-interval-ms", oldCfg.Clipboard.PollIntervalMS, newCfg.Clipboard.PollIntervalMS)
	if oldCfg.Store.Passphrase != newCfg.Store.Passphrase {
		changes = append(changes, "store.passphrase: changed")
	}
	return changes
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
