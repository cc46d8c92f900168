package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// SessionStatus is the coarse state of the session machine.
type SessionStatus string

const (
	StatusUnauthenticated SessionStatus = "unauthenticated"
	StatusAuthenticating  SessionStatus = "authenticating"
	StatusAuthenticated   SessionStatus = "authenticated"
	StatusRefreshing      SessionStatus = "refreshing"
)

const (
	defaultRefreshInterval = time.Minute
	defaultRefreshRetries  = 2
)

// SessionState is the snapshot broadcast to subscribers.
// IsAuthenticated implies User is non-nil.
type SessionState struct {
	Status          SessionStatus        `json:"status"`
	IsAuthenticated bool                 `json:"isAuthenticated"`
	IsLoading       bool                 `json:"isLoading"`
	User            *clipify.UserProfile `json:"user,omitempty"`
	Error           *clipify.AuthError   `json:"error,omitempty"`
}

func (s SessionState) clone() SessionState {
	if s.User != nil {
		user := *s.User
		s.User = &user
	}
	return s
}

// SessionDeps wires a Session to its collaborators.
type SessionDeps struct {
	Flow     AuthFlow
	Client   TokenClient
	Store    TokenStore
	Listener CallbackListener
	Launcher BrowserLauncher
	// Sink is optional.
	Sink EventSink
	// Now defaults to time.Now.
	Now func() time.Time

	// RefreshInterval is the auto-refresh tick, 60s by default.
	RefreshInterval time.Duration
	// RefreshBuffer is how close to expiry a token is refreshed, clipify.ExpiryBuffer by default.
	RefreshBuffer time.Duration
	// RefreshRetries bounds retries of retryable refresh failures.
	RefreshRetries int
}

// Session is the authentication controller. It owns the SessionState and is
// the only component that turns errors into user-visible state and events.
//
// Subscribers are called synchronously and in order; they must not call back
// into methods that change the session state.
type Session struct {
	deps SessionDeps

	refreshGroup singleflight.Group

	// notifyMu orders state transitions with their notifications.
	notifyMu sync.Mutex

	// genMu guards generation, which Logout bumps. A refresh started under an
	// older generation must not persist or publish its result.
	genMu      sync.Mutex
	generation uint64

	mu       sync.Mutex
	state    SessionState
	record   *clipify.TokenRecord
	verifier string
	subs     map[int]func(SessionState)
	nextSub  int
}

// NewSession creates a session in the unauthenticated state.
func NewSession(deps SessionDeps) (*Session, error) {
	switch {
	case deps.Flow == nil:
		return nil, errors.New("clipify auth: session requires an auth flow")
	case deps.Client == nil:
		return nil, errors.New("clipify auth: session requires a token client")
	case deps.Store == nil:
		return nil, errors.New("clipify auth: session requires a token store")
	case deps.Listener == nil:
		return nil, errors.New("clipify auth: session requires a callback listener")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RefreshInterval <= 0 {
		deps.RefreshInterval = defaultRefreshInterval
	}
	if deps.RefreshBuffer <= 0 {
		deps.RefreshBuffer = clipify.ExpiryBuffer
	}
	if deps.RefreshRetries < 0 {
		deps.RefreshRetries = 0
	} else if deps.RefreshRetries == 0 {
		deps.RefreshRetries = defaultRefreshRetries
	}
	return &Session{
		deps:  deps,
		state: SessionState{Status: StatusUnauthenticated},
		subs:  make(map[int]func(SessionState)),
	}, nil
}

// State returns a copy of the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Token returns a copy of the record backing the current session, if any.
func (s *Session) Token() *clipify.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// Subscribe registers fn for state changes and calls it once with the current state.
func (s *Session) Subscribe(fn func(SessionState)) (unsubscribe func()) {
	s.notifyMu.Lock()
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	current := s.state.clone()
	s.mu.Unlock()
	fn(current)
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// update applies mutate under the state lock and notifies subscribers.
func (s *Session) update(mutate func(st *SessionState)) SessionState {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state.clone()
	subs := make([]func(SessionState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot.clone())
	}
	return snapshot
}

func (s *Session) setAuthenticated(record *clipify.TokenRecord) {
	s.mu.Lock()
	s.record = record.Clone()
	s.mu.Unlock()

	user := record.User
	s.update(func(st *SessionState) {
		*st = SessionState{
			Status:          StatusAuthenticated,
			IsAuthenticated: true,
			User:            &user,
		}
	})
}

func (s *Session) setUnauthenticated(authErr *clipify.AuthError) {
	s.mu.Lock()
	s.record = nil
	s.mu.Unlock()

	s.update(func(st *SessionState) {
		*st = SessionState{Status: StatusUnauthenticated, Error: authErr}
	})
}

// fail records err as the session error, drops to unauthenticated and emits authError.
func (s *Session) fail(err error) *clipify.AuthError {
	authErr := classify(err)
	if authErr.Kind == clipify.KindUserCancelled {
		log.Debugf("clipify auth: %v", authErr)
	} else {
		log.Errorf("clipify auth: %v", authErr)
	}
	s.setUnauthenticated(authErr)
	if s.deps.Sink != nil {
		s.deps.Sink.AuthError(authErr)
	}
	return authErr
}

func classify(err error) *clipify.AuthError {
	if authErr, ok := clipify.AsAuthError(err); ok {
		return authErr
	}
	return clipify.NewAuthError(clipify.KindExchangeFailed, err.Error(), err)
}

func (s *Session) setVerifier(verifier string) {
	s.mu.Lock()
	s.verifier = verifier
	s.mu.Unlock()
}

func (s *Session) takeVerifier() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	verifier := s.verifier
	s.verifier = ""
	return verifier
}

// HasPendingVerifier reports whether a login is waiting for its callback.
func (s *Session) HasPendingVerifier() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifier != ""
}

// Login starts a browser sign-in. The returned AuthURL is also valid when the
// browser could not be opened, so callers can show it for manual use.
func (s *Session) Login(ctx context.Context, opts LoginOptions) (*clipify.AuthURL, error) {
	s.update(func(st *SessionState) {
		st.Status = StatusAuthenticating
		st.IsLoading = true
		st.Error = nil
	})

	if !s.deps.Listener.IsActive() {
		if err := s.deps.Listener.StartListening(s); err != nil {
			return nil, s.fail(clipify.NewAuthError(clipify.KindLoginUnavailable, "Deep-link listener unavailable", err))
		}
	}

	// The backend recognises an existing web session on its own, so an
	// unreachable backend only gets a warning here.
	if !s.deps.Client.TestConnection(ctx) {
		log.Warn("clipify auth: backend connectivity probe failed, opening sign-in anyway")
	}

	authURL, err := s.deps.Flow.GenerateAuthURL(opts.Signup)
	if err != nil {
		return nil, s.fail(clipify.NewAuthError(clipify.KindLoginUnavailable, "Could not start sign-in", err))
	}
	s.setVerifier(authURL.CodeVerifier)

	if opts.NoBrowser || s.deps.Launcher == nil {
		log.Debug("clipify auth: browser launch skipped")
		return authURL, nil
	}
	if err = s.deps.Launcher.OpenURL(authURL.URL); err != nil {
		return authURL, s.fail(clipify.WrapAuthError(clipify.ErrBrowserOpenFailed, err))
	}
	log.Info("clipify auth: opened sign-in page in the browser")
	return authURL, nil
}

// Signup is Login with the account-selection prompt.
func (s *Session) Signup(ctx context.Context, opts LoginOptions) (*clipify.AuthURL, error) {
	opts.Signup = true
	return s.Login(ctx, opts)
}

// OnAuthCallback implements deeplink.CallbackHandler.
func (s *Session) OnAuthCallback(code, state string) {
	s.HandleOAuthCallback(context.Background(), code, state)
}

// OnError implements deeplink.CallbackHandler. Only a login in progress is
// failed; an unsolicited or forged callback leaves the session untouched.
func (s *Session) OnError(err error) {
	if !s.loginInFlight() {
		log.Warnf("clipify auth: ignoring callback with no login in progress: %v", classify(err))
		return
	}
	s.takeVerifier()
	s.deps.Flow.Reset()
	s.fail(err)
}

// loginInFlight reports whether a Login is waiting for its callback.
func (s *Session) loginInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifier != "" || s.state.Status == StatusAuthenticating
}

// HandleOAuthCallback exchanges a validated code, persists the token and
// authenticates the session. The pending verifier is cleared on every path.
func (s *Session) HandleOAuthCallback(ctx context.Context, code, state string) bool {
	verifier := s.takeVerifier()
	if verifier == "" {
		log.Warn("clipify auth: no code verifier pending, exchanging without one")
	}

	s.update(func(st *SessionState) {
		st.Status = StatusAuthenticating
		st.IsLoading = true
		st.Error = nil
	})

	record, err := s.deps.Client.ExchangeCodeForToken(ctx, code, state, verifier)
	if err != nil {
		s.fail(err)
		return false
	}
	if err = s.deps.Store.StoreToken(ctx, record); err != nil {
		s.fail(err)
		return false
	}

	profile, err := s.deps.Client.GetUserProfile(ctx, record.AccessToken)
	if err != nil {
		log.Debugf("clipify auth: profile refetch failed, keeping exchange user: %v", err)
	} else {
		patch := clipify.PatchFromProfile(profile)
		if errUpdate := s.deps.Store.UpdateUserInfo(ctx, patch); errUpdate != nil {
			log.Warnf("clipify auth: store refreshed profile: %v", errUpdate)
		}
		patch.Apply(&record.User)
	}

	s.setAuthenticated(record)
	log.Infof("clipify auth: signed in as %s", record.User.Email)
	if s.deps.Sink != nil {
		s.deps.Sink.AuthSuccess(record.User)
	}
	return true
}

// CheckExistingAuth restores a persisted session at startup.
func (s *Session) CheckExistingAuth(ctx context.Context) bool {
	s.update(func(st *SessionState) { st.IsLoading = true })

	record, err := s.deps.Store.Peek(ctx)
	if err != nil {
		log.Errorf("clipify auth: read stored token: %v", err)
		s.setUnauthenticated(nil)
		return false
	}
	if record == nil {
		log.Debug("clipify auth: no stored session")
		s.setUnauthenticated(nil)
		return false
	}

	if s.deps.Store.IsTokenExpired(record) {
		if !record.HasRefreshToken() {
			log.Info("clipify auth: stored token expired and cannot be refreshed")
			s.clearStored(ctx)
			s.setUnauthenticated(nil)
			return false
		}
		return s.recover(ctx, record)
	}

	if s.deps.Client.ValidateToken(ctx, record.AccessToken) {
		s.setAuthenticated(record)
		return true
	}
	if !s.deps.Client.TestConnection(ctx) {
		log.Warn("clipify auth: backend unreachable, trusting stored token")
		s.setAuthenticated(record)
		return true
	}
	if !record.HasRefreshToken() {
		log.Info("clipify auth: stored token rejected by backend")
		s.clearStored(ctx)
		s.setUnauthenticated(nil)
		return false
	}
	return s.recover(ctx, record)
}

// recover refreshes record during startup and applies the refresh failure policy.
func (s *Session) recover(ctx context.Context, record *clipify.TokenRecord) bool {
	s.mu.Lock()
	s.record = record.Clone()
	s.mu.Unlock()

	if _, err := s.refresh(ctx); err != nil {
		if errors.Is(err, errSessionEnded) {
			return false
		}
		return s.handleRefreshFailure(ctx, record, err)
	}
	return true
}

func (s *Session) clearStored(ctx context.Context) {
	if err := s.deps.Store.RemoveToken(ctx); err != nil {
		log.Warnf("clipify auth: remove stored token: %v", err)
	}
}

// Logout stops the listener, clears stored credentials and resets the state.
// Local state is reset even when clearing the store fails; that error is returned.
func (s *Session) Logout(ctx context.Context) error {
	s.deps.Listener.StopListening()
	s.deps.Flow.Reset()
	s.takeVerifier()

	s.genMu.Lock()
	s.generation++
	err := s.deps.Store.ClearAll(ctx)
	if err != nil {
		log.Errorf("clipify auth: clear credentials: %v", err)
	}
	s.setUnauthenticated(nil)
	s.genMu.Unlock()
	log.Info("clipify auth: signed out")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
