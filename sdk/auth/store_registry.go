package auth

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/router-for-me/clipify/internal/config"
)

// BackendFactory builds a Backend from configuration. dataDir is the resolved
// agent data directory.
type BackendFactory func(ctx context.Context, cfg *config.Config, dataDir string) (Backend, error)

var (
	backendMu        sync.RWMutex
	backendFactories = map[string]BackendFactory{
		config.StoreFile: func(_ context.Context, _ *config.Config, dataDir string) (Backend, error) {
			return NewFileBackend(filepath.Join(dataDir, "secrets")), nil
		},
		config.StoreMemory: func(context.Context, *config.Config, string) (Backend, error) {
			return NewMemoryBackend(), nil
		},
	}
)

// RegisterBackend makes a backend type selectable through store.type.
func RegisterBackend(storeType string, factory BackendFactory) {
	backendMu.Lock()
	backendFactories[storeType] = factory
	backendMu.Unlock()
}

// RegisteredBackends lists the selectable store types.
func RegisteredBackends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	types := make([]string, 0, len(backendFactories))
	for t := range backendFactories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NewBackend builds the backend selected by cfg.Store.Type.
func NewBackend(ctx context.Context, cfg *config.Config, dataDir string) (Backend, error) {
	backendMu.RLock()
	factory, ok := backendFactories[cfg.Store.Type]
	backendMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("clipify auth: store type %q not registered", cfg.Store.Type)
	}
	return factory(ctx, cfg, dataDir)
}

// OpenTokenStore builds the configured backend and wraps it in a SecureTokenStore
// sealed with the data directory's key.
func OpenTokenStore(ctx context.Context, cfg *config.Config, dataDir string) (*SecureTokenStore, Backend, error) {
	backend, err := NewBackend(ctx, cfg, dataDir)
	if err != nil {
		return nil, nil, err
	}
	sealer, err := NewSealerForDataDir(dataDir, cfg.Store.Passphrase)
	if err != nil {
		if closer, ok := backend.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, nil, err
	}
	return NewSecureTokenStore(backend, sealer), backend, nil
}
