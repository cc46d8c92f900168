package clipify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/internal/misc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// AuthRequestTTL bounds how long a generated state stays acceptable.
const AuthRequestTTL = 10 * time.Minute

// AuthorizationRequest is the single in-flight login attempt.
type AuthorizationRequest struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
	CreatedAt     time.Time
}

// AuthURL is the result of GenerateAuthURL. The caller owns CodeVerifier and
// must hand it to the token exchange.
type AuthURL struct {
	URL          string
	State        string
	CodeVerifier string
	CreatedAt    time.Time
}

// CallbackResult is a validated authorization response.
type CallbackResult struct {
	Code  string
	State string
}

// OAuthFlow builds authorization URLs and validates callbacks against the
// single pending authorization request.
//
// The pending slot is last-writer-wins: generating a new URL silently
// supersedes an unconsumed one. Validation is fail-closed: any failed
// ValidateState clears the slot.
type OAuthFlow struct {
	oauthCfg *oauth2.Config
	now      func() time.Time

	mu      sync.Mutex
	pending *AuthorizationRequest
}

// FlowOption customises an OAuthFlow.
type FlowOption func(*OAuthFlow)

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) FlowOption {
	return func(f *OAuthFlow) {
		if now != nil {
			f.now = now
		}
	}
}

// NewOAuthFlow creates a flow for the authorization endpoint configured in cfg.
func NewOAuthFlow(cfg *config.Config, opts ...FlowOption) *OAuthFlow {
	flow := &OAuthFlow{
		oauthCfg: &oauth2.Config{
			ClientID:    cfg.OAuth.ClientID,
			RedirectURL: cfg.OAuth.RedirectURI,
			Scopes:      append([]string(nil), cfg.OAuth.Scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL: cfg.OAuth.AuthorizeURL,
			},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(flow)
	}
	return flow
}

// GenerateAuthURL creates a fresh state and PKCE pair, records them as the
// pending request, and returns the authorization URL.
//
// Parameters:
//   - signup: adds prompt=consent select_account so the provider shows account selection
//
// Returns:
//   - *AuthURL: the URL plus the state and verifier it was built from
//   - error: an error if the random source fails
func (f *OAuthFlow) GenerateAuthURL(signup bool) (*AuthURL, error) {
	state, err := misc.GenerateRandomState()
	if err != nil {
		return nil, fmt.Errorf("oauth: generate state: %w", err)
	}
	pkce, err := GeneratePKCECodes()
	if err != nil {
		return nil, fmt.Errorf("oauth: generate pkce: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(pkce.CodeVerifier),
		oauth2.SetAuthURLParam("client_type", "desktop"),
	}
	if signup {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent select_account"))
	}
	authURL := f.oauthCfg.AuthCodeURL(state, opts...)

	req := &AuthorizationRequest{
		State:         state,
		CodeVerifier:  pkce.CodeVerifier,
		CodeChallenge: pkce.CodeChallenge,
		CreatedAt:     f.now(),
	}

	f.mu.Lock()
	if f.pending != nil {
		log.Debug("oauth: superseding unconsumed authorization request")
	}
	f.pending = req
	f.mu.Unlock()

	return &AuthURL{
		URL:          authURL,
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
		CreatedAt:    req.CreatedAt,
	}, nil
}

// ValidateState consumes the pending request when received matches it and it
// has not expired. Every other outcome clears the pending request.
func (f *OAuthFlow) ValidateState(received string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.pending
	f.pending = nil

	switch {
	case pending == nil:
		log.Warn("oauth: callback received with no pending authorization request")
		return false
	case f.now().Sub(pending.CreatedAt) >= AuthRequestTTL:
		log.Warn("oauth: authorization request expired")
		return false
	case received == "" || received != pending.State:
		log.Warn("oauth: state mismatch, possible CSRF attempt")
		return false
	}
	return true
}

// Pending returns the pending state, if any live request exists.
func (f *OAuthFlow) Pending() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil || f.now().Sub(f.pending.CreatedAt) >= AuthRequestTTL {
		return "", false
	}
	return f.pending.State, true
}

// Reset discards any pending request.
func (f *OAuthFlow) Reset() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}

// ParseCallbackURL extracts the OAuth parameters from a deep link.
func (f *OAuthFlow) ParseCallbackURL(raw string) (*misc.OAuthCallback, error) {
	cb, err := misc.ParseOAuthCallback(raw)
	if err != nil {
		return nil, WrapAuthError(ErrInvalidCallbackURL, err)
	}
	return cb, nil
}

// HandleCallback parses and validates a callback deep link.
// Checks run in a fixed order: provider error, missing state, state
// validation, missing code. The code is never looked at before the state
// has been validated.
func (f *OAuthFlow) HandleCallback(raw string) (*CallbackResult, error) {
	cb, err := f.ParseCallbackURL(raw)
	if err != nil {
		return nil, err
	}
	if cb.HasError() {
		return nil, NewOAuthDeniedError(cb.Error, cb.ErrorDescription)
	}
	if strings.TrimSpace(cb.State) == "" {
		return nil, ErrMissingState
	}
	if !f.ValidateState(cb.State) {
		return nil, ErrInvalidState
	}
	if strings.TrimSpace(cb.Code) == "" {
		return nil, ErrMissingCode
	}
	return &CallbackResult{Code: cb.Code, State: cb.State}, nil
}
