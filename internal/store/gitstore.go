package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/router-for-me/clipify/sdk/auth"
	log "github.com/sirupsen/logrus"
)

// gcInterval defines minimum time between garbage collection runs.
const gcInterval = 5 * time.Minute

const gitSecretsDir = "secrets"

// GitStoreConfig captures configuration for the git-backed store.
type GitStoreConfig struct {
	RemoteURL string
	Username  string
	Token     string
	Branch    string
	// RepoDir is the local working tree.
	RepoDir string
}

// GitTokenStore keeps sealed values as files in a git repository and pushes
// every change, so the remote always holds exactly one squashed commit.
type GitTokenStore struct {
	mu     sync.Mutex
	cfg    GitStoreConfig
	ready  bool
	lastGC time.Time
}

// NewGitTokenStore creates a git-backed store. The repository is cloned or
// opened lazily on first use.
func NewGitTokenStore(cfg GitStoreConfig) (*GitTokenStore, error) {
	cfg.RemoteURL = strings.TrimSpace(cfg.RemoteURL)
	cfg.RepoDir = strings.TrimSpace(cfg.RepoDir)
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("git token store: remote not configured")
	}
	if cfg.RepoDir == "" {
		return nil, fmt.Errorf("git token store: repository directory not configured")
	}
	if abs, err := filepath.Abs(cfg.RepoDir); err == nil {
		cfg.RepoDir = abs
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &GitTokenStore{cfg: cfg}, nil
}

// RepoDir returns the local working tree.
func (s *GitTokenStore) RepoDir() string { return s.cfg.RepoDir }

// EnsureRepository prepares the local git working tree by cloning or opening the repository.
func (s *GitTokenStore) EnsureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureRepositoryLocked()
}

func (s *GitTokenStore) ensureRepositoryLocked() error {
	if s.ready {
		return nil
	}
	repoDir := s.cfg.RepoDir
	secretsDir := filepath.Join(repoDir, gitSecretsDir)
	gitDir := filepath.Join(repoDir, ".git")
	authMethod := s.gitAuth()
	branch := plumbing.NewBranchReferenceName(s.cfg.Branch)

	var initPaths []string
	if _, err := os.Stat(gitDir); errors.Is(err, fs.ErrNotExist) {
		if errMk := os.MkdirAll(repoDir, 0o700); errMk != nil {
			return fmt.Errorf("git token store: create repo dir: %w", errMk)
		}
		_, errClone := git.PlainClone(repoDir, &git.CloneOptions{
			Auth:          authMethod,
			URL:           s.cfg.RemoteURL,
			ReferenceName: branch,
			SingleBranch:  true,
		})
		switch {
		case errClone == nil:
		case errors.Is(errClone, transport.ErrEmptyRemoteRepository):
			_ = os.RemoveAll(gitDir)
			repo, errInit := git.PlainInit(repoDir, false)
			if errInit != nil {
				return fmt.Errorf("git token store: init empty repo: %w", errInit)
			}
			if errHead := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branch)); errHead != nil {
				return fmt.Errorf("git token store: set head: %w", errHead)
			}
			if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
				Name: "origin",
				URLs: []string{s.cfg.RemoteURL},
			}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
				return fmt.Errorf("git token store: configure remote: %w", errCreate)
			}
			if err = os.MkdirAll(secretsDir, 0o700); err != nil {
				return fmt.Errorf("git token store: create secrets dir: %w", err)
			}
			if err = ensureEmptyFile(filepath.Join(secretsDir, ".gitkeep")); err != nil {
				return fmt.Errorf("git token store: create secrets placeholder: %w", err)
			}
			initPaths = []string{filepath.Join(gitSecretsDir, ".gitkeep")}
		default:
			return fmt.Errorf("git token store: clone remote: %w", errClone)
		}
	} else if err != nil {
		return fmt.Errorf("git token store: stat repo: %w", err)
	} else {
		repo, errOpen := git.PlainOpen(repoDir)
		if errOpen != nil {
			return fmt.Errorf("git token store: open repo: %w", errOpen)
		}
		worktree, errWorktree := repo.Worktree()
		if errWorktree != nil {
			return fmt.Errorf("git token store: worktree: %w", errWorktree)
		}
		if errPull := worktree.Pull(&git.PullOptions{Auth: authMethod, RemoteName: "origin", ReferenceName: branch}); errPull != nil {
			switch {
			case errors.Is(errPull, git.NoErrAlreadyUpToDate),
				errors.Is(errPull, git.ErrUnstagedChanges),
				errors.Is(errPull, git.ErrNonFastForwardUpdate):
				// Local changes win over remote divergence.
			case errors.Is(errPull, transport.ErrAuthenticationRequired),
				errors.Is(errPull, plumbing.ErrReferenceNotFound),
				errors.Is(errPull, transport.ErrEmptyRemoteRepository):
				log.Debugf("git token store: skipping pull: %v", errPull)
			default:
				return fmt.Errorf("git token store: pull: %w", errPull)
			}
		}
	}
	if err := os.MkdirAll(secretsDir, 0o700); err != nil {
		return fmt.Errorf("git token store: create secrets dir: %w", err)
	}
	if len(initPaths) > 0 {
		if err := s.commitAndPushLocked("Initialize clipify secret store", initPaths...); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

// Get reads the sealed value for key from the working tree.
func (s *GitTokenStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureRepositoryLocked(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("git token store: read %s: %w", key, err)
	}
	return data, nil
}

// Put writes value under key, commits and pushes.
func (s *GitTokenStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureRepositoryLocked(); err != nil {
		return err
	}
	path := s.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o600); err != nil {
		return fmt.Errorf("git token store: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("git token store: rename secret file: %w", err)
	}
	return s.commitAndPushLocked("Update "+key, s.relPath(key))
}

// Delete removes key, commits and pushes.
func (s *GitTokenStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureRepositoryLocked(); err != nil {
		return err
	}
	if err := os.Remove(s.pathFor(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("git token store: delete %s: %w", key, err)
	}
	return s.commitAndPushLocked("Remove "+key, s.relPath(key))
}

// Clear removes every sealed file, commits and pushes.
func (s *GitTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureRepositoryLocked(); err != nil {
		return err
	}
	entries, err := os.ReadDir(filepath.Join(s.cfg.RepoDir, gitSecretsDir))
	if err != nil {
		return fmt.Errorf("git token store: list secrets: %w", err)
	}
	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, objectStoreSecretExt) {
			continue
		}
		if errRemove := os.Remove(filepath.Join(s.cfg.RepoDir, gitSecretsDir, name)); errRemove != nil && !errors.Is(errRemove, fs.ErrNotExist) {
			return fmt.Errorf("git token store: delete %s: %w", name, errRemove)
		}
		removed = append(removed, filepath.Join(gitSecretsDir, name))
	}
	return s.commitAndPushLocked("Clear secrets", removed...)
}

func (s *GitTokenStore) pathFor(key string) string {
	return filepath.Join(s.cfg.RepoDir, s.relPath(key))
}

func (s *GitTokenStore) relPath(key string) string {
	return filepath.Join(gitSecretsDir, key+objectStoreSecretExt)
}

func (s *GitTokenStore) gitAuth() transport.AuthMethod {
	if s.cfg.Username == "" && s.cfg.Token == "" {
		return nil
	}
	user := s.cfg.Username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.cfg.Token}
}

func (s *GitTokenStore) commitAndPushLocked(message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.cfg.RepoDir)
	if err != nil {
		return fmt.Errorf("git token store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git token store: worktree: %w", err)
	}
	added := false
	for _, rel := range relPaths {
		if strings.TrimSpace(rel) == "" {
			continue
		}
		if _, err = worktree.Add(filepath.ToSlash(rel)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if _, errRemove := worktree.Remove(filepath.ToSlash(rel)); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
					return fmt.Errorf("git token store: remove %s: %w", rel, errRemove)
				}
			} else {
				return fmt.Errorf("git token store: add %s: %w", rel, err)
			}
		}
		added = true
	}
	if !added {
		return nil
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git token store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "Clipify",
		Email: "clipify@local",
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature,
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git token store: commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("git token store: get head: %w", errHead)
		}
	} else if errRewrite := s.rewriteHeadAsSingleCommit(repo, headRef.Name(), commitHash, message, signature); errRewrite != nil {
		return errRewrite
	}
	s.maybeRunGC(repo)
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git token store: push: %w", err)
	}
	return nil
}

// rewriteHeadAsSingleCommit replaces the branch tip with a parentless copy so
// superseded sealed blobs do not accumulate in history.
func (s *GitTokenStore) rewriteHeadAsSingleCommit(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("git token store: inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		ParentHashes: nil,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err := squashed.Encode(mem); err != nil {
		return fmt.Errorf("git token store: encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("git token store: write squashed commit: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("git token store: update branch reference: %w", err)
	}
	return nil
}

func (s *GitTokenStore) maybeRunGC(repo *git.Repository) {
	now := time.Now()
	if now.Sub(s.lastGC) < gcInterval {
		return
	}
	s.lastGC = now

	pruneOpts := git.PruneOptions{
		OnlyObjectsOlderThan: now,
		Handler:              repo.DeleteObject,
	}
	if err := repo.Prune(pruneOpts); err != nil && !errors.Is(err, git.ErrLooseObjectsNotSupported) {
		return
	}
	_ = repo.RepackObjects(&git.RepackConfig{})
}

func ensureEmptyFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, nil, 0o600)
}
