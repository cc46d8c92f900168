package auth

import (
	"context"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/internal/deeplink"
)

// Backend is the key/value medium the SecureTokenStore seals records into.
// Implementations must treat Put as a full replacement of the key.
type Backend interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by the backend.
	Clear(ctx context.Context) error
}

// AuthFlow generates authorization URLs and owns the pending login request.
type AuthFlow interface {
	GenerateAuthURL(signup bool) (*clipify.AuthURL, error)
	Reset()
}

// TokenClient performs the backend calls the session depends on.
type TokenClient interface {
	ExchangeCodeForToken(ctx context.Context, code, state, codeVerifier string) (*clipify.TokenRecord, error)
	RefreshToken(ctx context.Context, refreshToken string) (*clipify.TokenRecord, error)
	RefreshTokenWithRetry(ctx context.Context, refreshToken string, maxRetries int) (*clipify.TokenRecord, error)
	ValidateToken(ctx context.Context, token string) bool
	GetUserProfile(ctx context.Context, token string) (*clipify.UserProfile, error)
	TestConnection(ctx context.Context) bool
}

// TokenStore persists the signed-in user's TokenRecord.
type TokenStore interface {
	StoreToken(ctx context.Context, record *clipify.TokenRecord) error
	RetrieveToken(ctx context.Context) (*clipify.TokenRecord, error)
	Peek(ctx context.Context) (*clipify.TokenRecord, error)
	RemoveToken(ctx context.Context) error
	ClearAll(ctx context.Context) error
	IsTokenExpired(record *clipify.TokenRecord) bool
	UpdateUserInfo(ctx context.Context, patch clipify.UserPatch) error
}

// CallbackListener delivers deep-link callbacks to a handler.
type CallbackListener interface {
	StartListening(handler deeplink.CallbackHandler) error
	StopListening()
	IsActive() bool
}

// BrowserLauncher opens a URL in the user's browser.
type BrowserLauncher interface {
	OpenURL(url string) error
}

// EventSink receives user-facing notifications emitted by the session.
// Only the session calls it; lower layers return errors instead.
type EventSink interface {
	AuthSuccess(user clipify.UserProfile)
	AuthError(err *clipify.AuthError)
}

// LoginOptions captures knobs for a single login attempt.
type LoginOptions struct {
	// Signup adds the account-selection prompt to the authorization URL.
	Signup bool
	// NoBrowser skips launching the browser; the URL is still returned.
	NoBrowser bool
}
