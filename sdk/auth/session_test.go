package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/router-for-me/clipify/internal/auth/clipify"
	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/internal/deeplink"
)

type fakeClient struct {
	mu sync.Mutex

	exchange     func(code, state, verifier string) (*clipify.TokenRecord, error)
	refresh      func(refreshToken string) (*clipify.TokenRecord, error)
	profile      func(token string) (*clipify.UserProfile, error)
	valid        bool
	reachable    bool
	lastVerifier string
	refreshCalls atomic.Int32
	refreshGate  chan struct{}
}

func (c *fakeClient) ExchangeCodeForToken(_ context.Context, code, state, verifier string) (*clipify.TokenRecord, error) {
	c.mu.Lock()
	c.lastVerifier = verifier
	c.mu.Unlock()
	return c.exchange(code, state, verifier)
}

func (c *fakeClient) RefreshToken(_ context.Context, refreshToken string) (*clipify.TokenRecord, error) {
	c.refreshCalls.Add(1)
	if c.refreshGate != nil {
		<-c.refreshGate
	}
	return c.refresh(refreshToken)
}

func (c *fakeClient) RefreshTokenWithRetry(ctx context.Context, refreshToken string, _ int) (*clipify.TokenRecord, error) {
	return c.RefreshToken(ctx, refreshToken)
}

func (c *fakeClient) ValidateToken(context.Context, string) bool { return c.valid }

func (c *fakeClient) GetUserProfile(_ context.Context, token string) (*clipify.UserProfile, error) {
	if c.profile == nil {
		return nil, errors.New("profile unavailable")
	}
	return c.profile(token)
}

func (c *fakeClient) TestConnection(context.Context) bool { return c.reachable }

type fakeLauncher struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (l *fakeLauncher) OpenURL(u string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, u)
	return l.err
}

type recordingSink struct {
	mu        sync.Mutex
	successes []clipify.UserProfile
	errors    []*clipify.AuthError
}

func (s *recordingSink) AuthSuccess(user clipify.UserProfile) {
	s.mu.Lock()
	s.successes = append(s.successes, user)
	s.mu.Unlock()
}

func (s *recordingSink) AuthError(err *clipify.AuthError) {
	s.mu.Lock()
	s.errors = append(s.errors, err)
	s.mu.Unlock()
}

type sessionFixture struct {
	session  *Session
	flow     *clipify.OAuthFlow
	listener *deeplink.Listener
	client   *fakeClient
	store    *SecureTokenStore
	backend  *countingBackend
	launcher *fakeLauncher
	sink     *recordingSink
	now      *atomic.Int64
}

func newSessionFixture(t *testing.T, client *fakeClient) *sessionFixture {
	t.Helper()

	cfg := config.Default()
	cfg.OAuth.AuthorizeURL = "https://auth.example.com/login"
	cfg.OAuth.ClientID = "desktop-client"

	f := &sessionFixture{client: client, now: &atomic.Int64{}}
	f.now.Store(storeEpoch.Unix())
	clock := func() time.Time { return time.Unix(f.now.Load(), 0) }

	f.flow = clipify.NewOAuthFlow(cfg, clipify.WithClock(clock))
	f.listener = deeplink.NewListener(nil, f.flow)
	f.backend = newCountingBackend()
	f.store = NewSecureTokenStore(f.backend, newTestSealer(t), WithStoreClock(clock))
	f.launcher = &fakeLauncher{}
	f.sink = &recordingSink{}

	session, err := NewSession(SessionDeps{
		Flow:     f.flow,
		Client:   client,
		Store:    f.store,
		Listener: f.listener,
		Launcher: f.launcher,
		Sink:     f.sink,
		Now:      clock,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	f.session = session
	t.Cleanup(f.listener.StopListening)
	return f
}

func (f *sessionFixture) advance(d time.Duration) {
	f.now.Add(int64(d / time.Second))
}

func issued(access, refresh string, expiresAt time.Time) *clipify.TokenRecord {
	return &clipify.TokenRecord{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt.Unix(),
		User:         clipify.UserProfile{ID: "u1", Email: "user@example.com", Name: "User", Plan: "free"},
	}
}

func TestLoginThroughDeepLinkAuthenticates(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		reachable: true,
		exchange: func(code, _, _ string) (*clipify.TokenRecord, error) {
			if code != "abc123" {
				return nil, clipify.NewAuthError(clipify.KindExchangeFailed, "bad code", nil)
			}
			return issued("access-1", "refresh-1", storeEpoch.Add(time.Hour)), nil
		},
		profile: func(string) (*clipify.UserProfile, error) {
			return &clipify.UserProfile{Plan: "pro"}, nil
		},
	}
	f := newSessionFixture(t, client)
	ctx := context.Background()

	login, err := f.session.Login(ctx, LoginOptions{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !f.listener.IsActive() {
		t.Fatal("Login() must start the deep-link listener")
	}
	if len(f.launcher.opened) != 1 || f.launcher.opened[0] != login.URL {
		t.Fatalf("launcher opened %v, want [%s]", f.launcher.opened, login.URL)
	}
	if st := f.session.State(); st.Status != StatusAuthenticating || !st.IsLoading {
		t.Fatalf("state after Login = %+v", st)
	}

	link := "clipify://auth/callback?" + url.Values{"code": {"abc123"}, "state": {login.State}}.Encode()
	if err = f.listener.SimulateDeepLink(link); err != nil {
		t.Fatalf("SimulateDeepLink() error = %v", err)
	}

	st := f.session.State()
	if !st.IsAuthenticated || st.Status != StatusAuthenticated || st.User == nil {
		t.Fatalf("state after callback = %+v", st)
	}
	if st.User.Plan != "pro" {
		t.Fatalf("profile refetch not applied, plan = %q", st.User.Plan)
	}
	if client.lastVerifier != login.CodeVerifier {
		t.Fatalf("exchange verifier = %q, want %q", client.lastVerifier, login.CodeVerifier)
	}
	if f.session.HasPendingVerifier() {
		t.Fatal("verifier must be cleared after the exchange")
	}
	stored, err := f.store.RetrieveToken(ctx)
	if err != nil || stored == nil {
		t.Fatalf("RetrieveToken() = %+v, %v", stored, err)
	}
	if stored.User.Plan != "pro" {
		t.Fatalf("stored plan = %q, want pro", stored.User.Plan)
	}
	if len(f.sink.successes) != 1 {
		t.Fatalf("auth success events = %d, want 1", len(f.sink.successes))
	}
}

func TestSignupAddsPrompt(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeClient{reachable: true})
	login, err := f.session.Signup(context.Background(), LoginOptions{NoBrowser: true})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	u, _ := url.Parse(login.URL)
	if got := u.Query().Get("prompt"); got != "consent select_account" {
		t.Fatalf("prompt = %q", got)
	}
	if len(f.launcher.opened) != 0 {
		t.Fatal("NoBrowser must not launch the browser")
	}
}

func TestLoginContinuesWhenProbeFails(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeClient{reachable: false})
	if _, err := f.session.Login(context.Background(), LoginOptions{}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if len(f.launcher.opened) != 1 {
		t.Fatalf("browser launches = %d, want 1", len(f.launcher.opened))
	}
}

func TestLoginBrowserFailureIsReported(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeClient{reachable: true})
	f.launcher.err = errors.New("no display")

	login, err := f.session.Login(context.Background(), LoginOptions{})
	if !errors.Is(err, clipify.ErrBrowserOpenFailed) {
		t.Fatalf("Login() error = %v, want browser_open_failed", err)
	}
	if login == nil || login.URL == "" {
		t.Fatal("Login() must still return the URL for manual use")
	}
	st := f.session.State()
	if st.IsLoading || st.Status != StatusUnauthenticated || st.Error == nil {
		t.Fatalf("state after launch failure = %+v", st)
	}
	if len(f.sink.errors) != 1 {
		t.Fatalf("auth error events = %d, want 1", len(f.sink.errors))
	}
}

func TestExchangeFailureClearsVerifier(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		reachable: true,
		exchange: func(string, string, string) (*clipify.TokenRecord, error) {
			return nil, &clipify.AuthError{Kind: clipify.KindBackend, Message: "server_error", StatusCode: 500}
		},
	}
	f := newSessionFixture(t, client)
	ctx := context.Background()

	login, err := f.session.Login(ctx, LoginOptions{NoBrowser: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !f.session.HasPendingVerifier() {
		t.Fatal("Login() must park the verifier")
	}
	if f.session.HandleOAuthCallback(ctx, "abc123", login.State) {
		t.Fatal("HandleOAuthCallback() succeeded on a failing exchange")
	}
	if f.session.HasPendingVerifier() {
		t.Fatal("verifier must be cleared after a failed exchange")
	}
	st := f.session.State()
	if st.IsAuthenticated || st.Error == nil || st.Error.Message != "server_error" {
		t.Fatalf("state after failure = %+v", st)
	}
}

func TestCallbackErrorResetsPendingLogin(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeClient{reachable: true})
	if _, err := f.session.Login(context.Background(), LoginOptions{NoBrowser: true}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := f.listener.SimulateDeepLink("clipify://auth/callback?error=access_denied"); err != nil {
		t.Fatalf("SimulateDeepLink() error = %v", err)
	}
	if _, ok := f.flow.Pending(); ok {
		t.Fatal("denied callback must reset the pending request")
	}
	st := f.session.State()
	if st.Error == nil || st.Error.Kind != clipify.KindOAuthDenied {
		t.Fatalf("state error = %+v, want oauth_denied", st.Error)
	}
}

func TestUnsolicitedCallbackKeepsSession(t *testing.T) {
	t.Parallel()

	links := []struct {
		name string
		link string
	}{
		{"provider error", "clipify://auth/callback?error=access_denied"},
		{"forged state", "clipify://auth/callback?code=x&state=forged"},
		{"missing state", "clipify://auth/callback?code=x"},
	}
	for _, tc := range links {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newSessionFixture(t, &fakeClient{valid: true, reachable: true})
			ctx := context.Background()
			if err := f.store.StoreToken(ctx, issued("access-1", "refresh-1", storeEpoch.Add(time.Hour))); err != nil {
				t.Fatalf("StoreToken() error = %v", err)
			}
			if !f.session.CheckExistingAuth(ctx) {
				t.Fatal("CheckExistingAuth() = false")
			}
			if err := f.listener.StartListening(f.session); err != nil {
				t.Fatalf("StartListening() error = %v", err)
			}

			if err := f.listener.SimulateDeepLink(tc.link); err != nil {
				t.Fatalf("SimulateDeepLink() error = %v", err)
			}

			st := f.session.State()
			if !st.IsAuthenticated || st.Status != StatusAuthenticated || st.Error != nil {
				t.Fatalf("state = %+v, want untouched authenticated session", st)
			}
			if f.session.Token() == nil {
				t.Fatal("session token dropped")
			}
			if stored, err := f.store.Peek(ctx); err != nil || stored == nil {
				t.Fatalf("stored record = %+v, %v", stored, err)
			}
			f.sink.mu.Lock()
			defer f.sink.mu.Unlock()
			if len(f.sink.errors) != 0 {
				t.Fatalf("sink errors = %v", f.sink.errors)
			}
		})
	}
}

func TestLoginSetupFailureKind(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeClient{reachable: true})
	session, err := NewSession(SessionDeps{
		Flow:     f.flow,
		Client:   f.client,
		Store:    f.store,
		Listener: deeplink.NewListener(failingSource{}, f.flow),
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	_, err = session.Login(context.Background(), LoginOptions{NoBrowser: true})
	authErr, ok := clipify.AsAuthError(err)
	if !ok || authErr.Kind != clipify.KindLoginUnavailable {
		t.Fatalf("Login() error = %v, want login_unavailable", err)
	}
	if st := session.State(); st.Error == nil || st.Error.Kind != clipify.KindLoginUnavailable {
		t.Fatalf("state error = %+v", st.Error)
	}
}

type failingSource struct{}

func (failingSource) Subscribe(context.Context, func(string)) (func(), error) {
	return nil, errors.New("too many open files")
}

func TestCheckExistingAuth(t *testing.T) {
	t.Parallel()

	refreshed := issued("access-2", "refresh-2", storeEpoch.Add(2*time.Hour))
	cases := []struct {
		name       string
		stored     *clipify.TokenRecord
		client     *fakeClient
		want       bool
		wantStored bool
		wantAccess string
	}{
		{
			name:   "no record",
			client: &fakeClient{},
			want:   false,
		},
		{
			name:       "valid token",
			stored:     issued("access-1", "", storeEpoch.Add(time.Hour)),
			client:     &fakeClient{valid: true},
			want:       true,
			wantStored: true,
			wantAccess: "access-1",
		},
		{
			// Scenario: backend rejects the token and there is no refresh token.
			name:       "rejected without refresh token",
			stored:     issued("access-1", "", storeEpoch.Add(time.Hour)),
			client:     &fakeClient{valid: false, reachable: true},
			want:       false,
			wantStored: false,
		},
		{
			name:       "backend unreachable trusts local token",
			stored:     issued("access-1", "", storeEpoch.Add(time.Hour)),
			client:     &fakeClient{valid: false, reachable: false},
			want:       true,
			wantStored: true,
			wantAccess: "access-1",
		},
		{
			name:   "rejected then refreshed",
			stored: issued("access-1", "refresh-1", storeEpoch.Add(time.Hour)),
			client: &fakeClient{valid: false, reachable: true, refresh: func(string) (*clipify.TokenRecord, error) {
				return refreshed.Clone(), nil
			}},
			want:       true,
			wantStored: true,
			wantAccess: "access-2",
		},
		{
			name:   "expired then refreshed",
			stored: issued("access-1", "refresh-1", storeEpoch.Add(time.Minute)),
			client: &fakeClient{refresh: func(string) (*clipify.TokenRecord, error) {
				return refreshed.Clone(), nil
			}},
			want:       true,
			wantStored: true,
			wantAccess: "access-2",
		},
		{
			name:       "expired without refresh token",
			stored:     issued("access-1", "", storeEpoch.Add(-time.Minute)),
			client:     &fakeClient{},
			want:       false,
			wantStored: false,
		},
		{
			name:   "expired and refresh rejected",
			stored: issued("access-1", "refresh-1", storeEpoch.Add(-time.Minute)),
			client: &fakeClient{refresh: func(string) (*clipify.TokenRecord, error) {
				return nil, clipify.WrapAuthError(clipify.ErrRefreshFailed, &clipify.AuthError{Kind: clipify.KindInvalidToken, StatusCode: 401})
			}},
			want:       false,
			wantStored: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newSessionFixture(t, tc.client)
			ctx := context.Background()
			if tc.stored != nil {
				if err := f.store.StoreToken(ctx, tc.stored); err != nil {
					t.Fatalf("StoreToken() error = %v", err)
				}
			}

			if got := f.session.CheckExistingAuth(ctx); got != tc.want {
				t.Fatalf("CheckExistingAuth() = %v, want %v (state %+v)", got, tc.want, f.session.State())
			}
			st := f.session.State()
			if st.IsAuthenticated != tc.want || st.IsLoading {
				t.Fatalf("state = %+v", st)
			}
			if st.IsAuthenticated && st.User == nil {
				t.Fatal("authenticated state without a user")
			}
			stored, err := f.store.Peek(ctx)
			if err != nil {
				t.Fatalf("Peek() error = %v", err)
			}
			if (stored != nil) != tc.wantStored {
				t.Fatalf("stored record = %+v, want present=%v", stored, tc.wantStored)
			}
			if tc.wantAccess != "" && stored.AccessToken != tc.wantAccess {
				t.Fatalf("stored access token = %q, want %q", stored.AccessToken, tc.wantAccess)
			}
		})
	}
}

func TestConcurrentRefreshSharesOneCall(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	client := &fakeClient{
		valid:       true,
		refreshGate: gate,
		refresh: func(string) (*clipify.TokenRecord, error) {
			return issued("access-2", "refresh-2", storeEpoch.Add(2*time.Hour)), nil
		},
	}
	f := newSessionFixture(t, client)
	ctx := context.Background()
	if err := f.store.StoreToken(ctx, issued("access-1", "refresh-1", storeEpoch.Add(time.Hour))); err != nil {
		t.Fatalf("StoreToken() error = %v", err)
	}
	if !f.session.CheckExistingAuth(ctx) {
		t.Fatal("CheckExistingAuth() = false")
	}

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.session.RefreshToken(ctx)
		}()
	}
	for client.refreshCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, ok := range results {
		if !ok {
			t.Fatalf("RefreshToken() #%d = false", i)
		}
	}
	if calls := client.refreshCalls.Load(); calls < 1 || calls > 4 {
		t.Fatalf("refresh calls = %d", calls)
	}
	stored, err := f.store.RetrieveToken(ctx)
	if err != nil || stored == nil || stored.AccessToken != "access-2" {
		t.Fatalf("stored after refresh = %+v, %v", stored, err)
	}
	if stored.RefreshToken != "refresh-2" {
		t.Fatalf("stored refresh token = %q", stored.RefreshToken)
	}
}

func TestAutoRefreshPolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		refreshErr    error
		advance       time.Duration
		wantAuth      bool
		wantRefreshes int32
	}{
		{
			name:          "far from expiry does nothing",
			advance:       0,
			wantAuth:      true,
			wantRefreshes: 0,
		},
		{
			name:          "retryable failure keeps the session",
			refreshErr:    clipify.WrapAuthError(clipify.ErrRefreshFailed, &clipify.AuthError{Kind: clipify.KindNetwork}),
			advance:       56 * time.Minute,
			wantAuth:      true,
			wantRefreshes: 1,
		},
		{
			name:          "permanent failure signs out",
			refreshErr:    clipify.WrapAuthError(clipify.ErrRefreshFailed, &clipify.AuthError{Kind: clipify.KindInvalidToken}),
			advance:       56 * time.Minute,
			wantAuth:      false,
			wantRefreshes: 1,
		},
		{
			name:          "retryable failure after real expiry signs out",
			refreshErr:    clipify.WrapAuthError(clipify.ErrRefreshFailed, &clipify.AuthError{Kind: clipify.KindBackend}),
			advance:       61 * time.Minute,
			wantAuth:      false,
			wantRefreshes: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := &fakeClient{
				valid: true,
				refresh: func(string) (*clipify.TokenRecord, error) {
					if tc.refreshErr != nil {
						return nil, tc.refreshErr
					}
					return issued("access-2", "refresh-2", storeEpoch.Add(3*time.Hour)), nil
				},
			}
			f := newSessionFixture(t, client)
			ctx := context.Background()
			if err := f.store.StoreToken(ctx, issued("access-1", "refresh-1", storeEpoch.Add(time.Hour))); err != nil {
				t.Fatalf("StoreToken() error = %v", err)
			}
			if !f.session.CheckExistingAuth(ctx) {
				t.Fatal("CheckExistingAuth() = false")
			}

			f.advance(tc.advance)
			f.session.checkAndRefresh(ctx)

			if got := client.refreshCalls.Load(); got != tc.wantRefreshes {
				t.Fatalf("refresh calls = %d, want %d", got, tc.wantRefreshes)
			}
			st := f.session.State()
			if st.IsAuthenticated != tc.wantAuth {
				t.Fatalf("authenticated = %v, want %v (state %+v)", st.IsAuthenticated, tc.wantAuth, st)
			}
			if !tc.wantAuth {
				if stored, _ := f.store.Peek(ctx); stored != nil {
					t.Fatalf("signed-out session left a stored token: %+v", stored)
				}
				if st.Error == nil || st.Error.Kind != clipify.KindTokenExpired {
					t.Fatalf("state error = %+v, want token_expired", st.Error)
				}
			}
		})
	}
}

type failingClearStore struct {
	*SecureTokenStore
}

func (s failingClearStore) ClearAll(context.Context) error {
	return clipify.WrapAuthError(clipify.ErrStorage, errors.New("read-only volume"))
}

func TestLogoutAlwaysResetsState(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeClient{valid: true, reachable: true})
	ctx := context.Background()
	if err := f.store.StoreToken(ctx, issued("access-1", "", storeEpoch.Add(time.Hour))); err != nil {
		t.Fatalf("StoreToken() error = %v", err)
	}
	session, err := NewSession(SessionDeps{
		Flow:     f.flow,
		Client:   f.client,
		Store:    failingClearStore{f.store},
		Listener: f.listener,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if !session.CheckExistingAuth(ctx) {
		t.Fatal("CheckExistingAuth() = false")
	}
	if _, err = session.Login(ctx, LoginOptions{NoBrowser: true}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	err = session.Logout(ctx)
	if !errors.Is(err, clipify.ErrStorage) {
		t.Fatalf("Logout() error = %v, want storage_error", err)
	}
	st := session.State()
	if st.IsAuthenticated || st.User != nil || st.Status != StatusUnauthenticated {
		t.Fatalf("state after logout = %+v", st)
	}
	if f.listener.IsActive() {
		t.Fatal("Logout() must stop the listener")
	}
	if _, ok := f.flow.Pending(); ok {
		t.Fatal("Logout() must reset the pending request")
	}
}

func TestLogoutDuringRefreshDiscardsResult(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	client := &fakeClient{
		valid:       true,
		refreshGate: gate,
		refresh: func(string) (*clipify.TokenRecord, error) {
			return issued("access-2", "refresh-2", storeEpoch.Add(2*time.Hour)), nil
		},
	}
	f := newSessionFixture(t, client)
	ctx := context.Background()
	if err := f.store.StoreToken(ctx, issued("access-1", "refresh-1", storeEpoch.Add(time.Hour))); err != nil {
		t.Fatalf("StoreToken() error = %v", err)
	}
	if !f.session.CheckExistingAuth(ctx) {
		t.Fatal("CheckExistingAuth() = false")
	}

	done := make(chan bool, 1)
	go func() { done <- f.session.RefreshToken(ctx) }()
	for client.refreshCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := f.session.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	close(gate)

	if <-done {
		t.Fatal("RefreshToken() = true after logout")
	}
	st := f.session.State()
	if st.IsAuthenticated || st.Status != StatusUnauthenticated || st.Error != nil {
		t.Fatalf("state after logout = %+v", st)
	}
	if f.session.Token() != nil {
		t.Fatal("session token restored after logout")
	}
	if stored, err := f.store.Peek(ctx); err != nil || stored != nil {
		t.Fatalf("stored record after logout = %+v, %v", stored, err)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeClient{valid: true})
	ctx := context.Background()
	if err := f.store.StoreToken(ctx, issued("access-1", "", storeEpoch.Add(time.Hour))); err != nil {
		t.Fatalf("StoreToken() error = %v", err)
	}

	var mu sync.Mutex
	var seen []SessionStatus
	unsubscribe := f.session.Subscribe(func(st SessionState) {
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	})
	f.session.CheckExistingAuth(ctx)
	unsubscribe()
	if err := f.session.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != StatusUnauthenticated || seen[len(seen)-1] != StatusAuthenticated {
		t.Fatalf("seen statuses = %v", seen)
	}
}

func TestNewSessionRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewSession(SessionDeps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}
