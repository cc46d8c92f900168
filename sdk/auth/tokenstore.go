package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	log "github.com/sirupsen/logrus"
)

// TokenKey is the backend key holding the single signed-in user's record.
const TokenKey = "auth.token"

// SecureTokenStore persists the TokenRecord sealed through a Sealer into a Backend.
//
// Reads apply the buffered expiry rule: an expired record is deleted and
// reported as absent, so callers never see a stale token. Use Peek when the
// raw record is needed, e.g. to refresh it.
type SecureTokenStore struct {
	backend Backend
	sealer  *Sealer
	now     func() time.Time

	// mu serialises read-modify-write sequences such as UpdateUserInfo.
	mu sync.Mutex
}

// StoreOption customises a SecureTokenStore.
type StoreOption func(*SecureTokenStore)

// WithStoreClock overrides the time source used for expiry checks.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *SecureTokenStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSecureTokenStore creates a store over backend using sealer for encryption.
func NewSecureTokenStore(backend Backend, sealer *Sealer, opts ...StoreOption) *SecureTokenStore {
	s := &SecureTokenStore{backend: backend, sealer: sealer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreToken replaces the persisted record.
func (s *SecureTokenStore) StoreToken(ctx context.Context, record *clipify.TokenRecord) error {
	if record == nil {
		return storageError("store", errors.New("nil record"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(ctx, record)
}

// RetrieveToken returns the persisted record, or nil when there is none or it has expired.
// An expired record is deleted before returning.
func (s *SecureTokenStore) RetrieveToken(ctx context.Context) (*clipify.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.readLocked(ctx)
	if err != nil || record == nil {
		return nil, err
	}
	if s.IsTokenExpired(record) {
		log.Debug("token store: stored token expired, removing")
		if err = s.backend.Delete(ctx, TokenKey); err != nil {
			return nil, storageError("delete", err)
		}
		return nil, nil
	}
	return record, nil
}

// Peek returns the persisted record without applying the expiry rule.
func (s *SecureTokenStore) Peek(ctx context.Context) (*clipify.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx)
}

// RemoveToken deletes the persisted record.
func (s *SecureTokenStore) RemoveToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageError("delete", s.backend.Delete(ctx, TokenKey))
}

// ClearAll removes everything the store's backend holds.
func (s *SecureTokenStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageError("clear", s.backend.Clear(ctx))
}

// IsTokenExpired reports whether record is expired, treating tokens as expired
// clipify.ExpiryBuffer before their wire expiry.
func (s *SecureTokenStore) IsTokenExpired(record *clipify.TokenRecord) bool {
	return record.ExpiredAt(s.now())
}

// UpdateUserInfo merges patch into the stored record's user and rewrites it.
// It fails with clipify.ErrNoTokenToUpdate when no record exists.
func (s *SecureTokenStore) UpdateUserInfo(ctx context.Context, patch clipify.UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.readLocked(ctx)
	if err != nil {
		return err
	}
	if record == nil {
		return clipify.ErrNoTokenToUpdate
	}
	patch.Apply(&record.User)
	return s.writeLocked(ctx, record)
}

func (s *SecureTokenStore) readLocked(ctx context.Context) (*clipify.TokenRecord, error) {
	sealed, err := s.backend.Get(ctx, TokenKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("read", err)
	}
	var record clipify.TokenRecord
	if err = s.sealer.Open(TokenKey, sealed, &record); err != nil {
		return nil, storageError("open", err)
	}
	return &record, nil
}

func (s *SecureTokenStore) writeLocked(ctx context.Context, record *clipify.TokenRecord) error {
	sealed, err := s.sealer.Seal(TokenKey, record)
	if err != nil {
		return storageError("seal", err)
	}
	return storageError("write", s.backend.Put(ctx, TokenKey, sealed))
}
