package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/sdk/auth"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "clipify.db")
	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err = store.Get(ctx, "auth.token"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
	}
	if err = store.Put(ctx, "auth.token", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err = store.Put(ctx, "auth.token", []byte{4, 5}); err != nil {
		t.Fatalf("Put() replace error = %v", err)
	}
	got, err := store.Get(ctx, "auth.token")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !slices.Equal(got, []byte{4, 5}) {
		t.Fatalf("Get() = %v, want [4 5]", got)
	}
	if err = store.Delete(ctx, "auth.token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err = store.Delete(ctx, "auth.token"); err != nil {
		t.Fatalf("Delete() of missing key error = %v", err)
	}
	if err = store.Put(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err = store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err = store.Get(ctx, "a"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("Get() after Clear error = %v, want ErrNotFound", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat database: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("database perm = %o, want 600", perm)
	}
}

func TestSQLiteBackendThroughRegistry(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Store.Type = config.StoreSQLite
	dataDir := t.TempDir()
	ctx := context.Background()

	tokens, backend, err := auth.OpenTokenStore(ctx, cfg, dataDir)
	if err != nil {
		t.Fatalf("OpenTokenStore() error = %v", err)
	}
	sqlite, ok := backend.(*SQLiteStore)
	if !ok {
		t.Fatalf("backend = %T, want *SQLiteStore", backend)
	}
	defer func() { _ = sqlite.Close() }()
	if sqlite.Path() != filepath.Join(dataDir, "clipify.db") {
		t.Fatalf("sqlite path = %s", sqlite.Path())
	}
	if err = tokens.UpdateUserInfo(ctx, clipify.UserPatch{}); err == nil {
		t.Fatal("UpdateUserInfo() on empty store should fail")
	}
}

func TestRegisteredStoreTypes(t *testing.T) {
	t.Parallel()

	types := auth.RegisteredBackends()
	for _, want := range []string{config.StoreSQLite, config.StorePostgres, config.StoreObject, config.StoreGit} {
		if !slices.Contains(types, want) {
			t.Errorf("store type %q not registered (have %v)", want, types)
		}
	}
}

func TestBackendConstructorsValidate(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(context.Background(), PostgresStoreConfig{DSN: "  "}); err == nil {
		t.Error("NewPostgresStore() accepted an empty DSN")
	}
	if _, err := NewObjectTokenStore(ObjectStoreConfig{Endpoint: "s3.example.com"}); err == nil {
		t.Error("NewObjectTokenStore() accepted a missing bucket")
	}
	if _, err := NewGitTokenStore(GitStoreConfig{RepoDir: t.TempDir()}); err == nil {
		t.Error("NewGitTokenStore() accepted a missing remote")
	}
	if _, err := NewSQLiteStore(context.Background(), ""); err == nil {
		t.Error("NewSQLiteStore() accepted an empty path")
	}
}

func TestObjectKeys(t *testing.T) {
	t.Parallel()

	store, err := NewObjectTokenStore(ObjectStoreConfig{
		Endpoint:  "s3.example.com",
		Bucket:    "bucket",
		AccessKey: "ak",
		SecretKey: "sk",
		Prefix:    "/clipify/",
	})
	if err != nil {
		t.Fatalf("NewObjectTokenStore() error = %v", err)
	}
	if got := store.objectKey("auth.token"); got != "clipify/secrets/auth.token.sealed" {
		t.Fatalf("objectKey() = %q", got)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	t.Parallel()

	if got := quoteIdentifier(`odd"name`); got != `"odd""name"` {
		t.Fatalf("quoteIdentifier() = %s", got)
	}
	s := &PostgresStore{cfg: PostgresStoreConfig{Schema: "app", Table: "secrets"}}
	if got := s.table(); got != `"app"."secrets"` {
		t.Fatalf("table() = %s", got)
	}
}
