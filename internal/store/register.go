// Package store provides remote and embedded backends for the sealed token
// store. Importing it registers the sqlite, postgres, object and git store
// types with the auth package.
package store

import (
	"context"
	"path/filepath"

	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/sdk/auth"
)

func init() {
	auth.RegisterBackend(config.StoreSQLite, newSQLiteBackend)
	auth.RegisterBackend(config.StorePostgres, newPostgresBackend)
	auth.RegisterBackend(config.StoreObject, newObjectBackend)
	auth.RegisterBackend(config.StoreGit, newGitBackend)
}

func newSQLiteBackend(ctx context.Context, cfg *config.Config, dataDir string) (auth.Backend, error) {
	path := cfg.Store.SQLite.Path
	if path == "" {
		path = filepath.Join(dataDir, "clipify.db")
	}
	return NewSQLiteStore(ctx, path)
}

func newPostgresBackend(ctx context.Context, cfg *config.Config, _ string) (auth.Backend, error) {
	pg, err := NewPostgresStore(ctx, PostgresStoreConfig{
		DSN:    cfg.Store.Postgres.DSN,
		Schema: cfg.Store.Postgres.Schema,
		Table:  cfg.Store.Postgres.Table,
	})
	if err != nil {
		return nil, err
	}
	if err = pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	return pg, nil
}

func newObjectBackend(ctx context.Context, cfg *config.Config, _ string) (auth.Backend, error) {
	obj, err := NewObjectTokenStore(ObjectStoreConfig{
		Endpoint:  cfg.Store.Object.Endpoint,
		Bucket:    cfg.Store.Object.Bucket,
		AccessKey: cfg.Store.Object.AccessKey,
		SecretKey: cfg.Store.Object.SecretKey,
		Region:    cfg.Store.Object.Region,
		Prefix:    cfg.Store.Object.Prefix,
		UseSSL:    cfg.Store.Object.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err = obj.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return obj, nil
}

func newGitBackend(_ context.Context, cfg *config.Config, dataDir string) (auth.Backend, error) {
	repoDir := cfg.Store.Git.Path
	if repoDir == "" {
		repoDir = filepath.Join(dataDir, "gitstore")
	}
	return NewGitTokenStore(GitStoreConfig{
		RemoteURL: cfg.Store.Git.RemoteURL,
		Username:  cfg.Store.Git.Username,
		Token:     cfg.Store.Git.Token,
		Branch:    cfg.Store.Git.Branch,
		RepoDir:   repoDir,
	})
}
