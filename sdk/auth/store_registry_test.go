package auth

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/internal/config"
)

func TestOpenTokenStoreFileBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	dataDir := t.TempDir()
	ctx := context.Background()

	store, backend, err := OpenTokenStore(ctx, cfg, dataDir)
	if err != nil {
		t.Fatalf("OpenTokenStore() error = %v", err)
	}
	if _, ok := backend.(*FileBackend); !ok {
		t.Fatalf("backend = %T, want *FileBackend", backend)
	}
	record := &clipify.TokenRecord{AccessToken: "a", ExpiresAt: 4_102_444_800}
	if err = store.StoreToken(ctx, record); err != nil {
		t.Fatalf("StoreToken() error = %v", err)
	}

	reopened, _, err := OpenTokenStore(ctx, cfg, dataDir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := reopened.RetrieveToken(ctx)
	if err != nil || got == nil || got.AccessToken != "a" {
		t.Fatalf("RetrieveToken() after reopen = %+v, %v", got, err)
	}
}

func TestNewBackendUnknownType(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Store.Type = "floppy"
	if _, err := NewBackend(context.Background(), cfg, t.TempDir()); err == nil {
		t.Fatal("expected error for unknown store type")
	}
	if types := RegisteredBackends(); !slices.Contains(types, config.StoreFile) || !slices.Contains(types, config.StoreMemory) {
		t.Fatalf("RegisteredBackends() = %v", types)
	}
}

type closingBackend struct {
	*MemoryBackend
	closed *atomic.Bool
}

func (b closingBackend) Close() error {
	b.closed.Store(true)
	return nil
}

func TestOpenTokenStoreClosesBackendWhenKeyFails(t *testing.T) {
	t.Parallel()

	closed := &atomic.Bool{}
	RegisterBackend("closing-test", func(context.Context, *config.Config, string) (Backend, error) {
		return closingBackend{MemoryBackend: NewMemoryBackend(), closed: closed}, nil
	})

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	cfg := config.Default()
	cfg.Store.Type = "closing-test"

	if _, _, err := OpenTokenStore(context.Background(), cfg, filepath.Join(blocker, "data")); err == nil {
		t.Fatal("OpenTokenStore() error = nil, want key file failure")
	}
	if !closed.Load() {
		t.Fatal("backend was not closed after the sealer failed")
	}
}
