package clipify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/clipify/internal/buildinfo"
	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/internal/logging"
	"github.com/router-for-me/clipify/internal/misc"
	"github.com/router-for-me/clipify/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// defaultTokenLifetime applies when neither expiresIn nor a JWT exp claim is available.
const defaultTokenLifetime = time.Hour

// tokenResponse is the body returned by the exchange and refresh endpoints.
type tokenResponse struct {
	Success      *bool       `json:"success"`
	Token        string      `json:"token"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         UserProfile `json:"user"`
}

func (r *tokenResponse) accessToken() string {
	if strings.TrimSpace(r.Token) != "" {
		return strings.TrimSpace(r.Token)
	}
	return strings.TrimSpace(r.AccessToken)
}

// BackendClient talks to the Clipify backend: code exchange, refresh,
// validation, profile lookup and health checks.
//
// Exchange and refresh are hard operations and return classified *AuthError
// values. Validation and the health probe are soft and only report a bool.
type BackendClient struct {
	cfg     *config.Config
	http    *resty.Client
	now     func() time.Time
	backoff func(error, int) time.Duration
}

// ClientOption customises a BackendClient.
type ClientOption func(*BackendClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *BackendClient) {
		if hc != nil {
			c.http = newRestyClient(c.cfg, hc)
		}
	}
}

// WithClientClock overrides the time source used to compute expiresAt.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *BackendClient) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRetryBackoff overrides the wait between refresh retries.
func WithRetryBackoff(backoff func(error, int) time.Duration) ClientOption {
	return func(c *BackendClient) {
		if backoff != nil {
			c.backoff = backoff
		}
	}
}

// NewBackendClient creates a client for the backend configured in cfg.
// Outbound requests honour cfg.ProxyURL and cfg.ConnectTimeout.
func NewBackendClient(cfg *config.Config, opts ...ClientOption) *BackendClient {
	c := &BackendClient{cfg: cfg, now: time.Now, backoff: RetryBackoff}
	c.http = newRestyClient(cfg, util.NewHTTPClient(&cfg.SDKConfig))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newRestyClient(cfg *config.Config, hc *http.Client) *resty.Client {
	client := resty.NewWithClient(hc).
		SetTimeout(cfg.Timeout()).
		SetLogger(log.StandardLogger()).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": "clipify-desktop/" + buildinfo.Version,
		})
	if cfg.RequestLog {
		client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			log.WithContext(resp.Request.Context()).Debugf("backend %s %s -> %d in %s",
				resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time())
			return nil
		})
	}
	return client
}

func (c *BackendClient) request(ctx context.Context) *resty.Request {
	ctx, requestID := logging.EnsureRequestID(ctx)
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
}

// ExchangeCodeForToken trades an authorization code for a token record.
//
// Parameters:
//   - ctx: The context for the request
//   - code: The authorization code from the callback
//   - state: The validated state value from the callback
//   - codeVerifier: The PKCE verifier returned by GenerateAuthURL; omitted from the body when empty
//
// Returns:
//   - *TokenRecord: The new credentials
//   - error: A classified *AuthError on failure
func (c *BackendClient) ExchangeCodeForToken(ctx context.Context, code, state, codeVerifier string) (*TokenRecord, error) {
	body := map[string]string{
		"authCode": code,
		"state":    state,
	}
	if codeVerifier != "" {
		body["codeVerifier"] = codeVerifier
	}

	resp, err := c.request(ctx).
		SetBody(body).
		Post(c.cfg.EndpointURL(c.cfg.Endpoints.Exchange))
	if err != nil {
		return nil, WrapAuthError(ErrNetwork, fmt.Errorf("token exchange request failed: %w", err))
	}
	if !resp.IsSuccess() {
		return nil, classifyStatus(resp.StatusCode(), resp.Body(), KindExchangeFailed)
	}

	record, err := c.decodeTokenResponse(resp.Body(), KindExchangeFailed)
	if err != nil {
		return nil, err
	}
	log.Debugf("token exchange succeeded for %s, expires at %s", record.User.Email, record.ExpiryTime().Format(time.RFC3339))
	return record, nil
}

// RefreshToken obtains a new token record using a refresh token.
// If the response carries no new refresh token, the supplied one is kept.
func (c *BackendClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, NewAuthError(KindRefreshFailed, "no refresh token available", nil)
	}

	resp, err := c.request(ctx).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		Post(c.cfg.EndpointURL(c.cfg.Endpoints.Refresh))
	if err != nil {
		return nil, refreshFailed(WrapAuthError(ErrNetwork, fmt.Errorf("token refresh request failed: %w", err)))
	}
	if !resp.IsSuccess() {
		return nil, refreshFailed(classifyStatus(resp.StatusCode(), resp.Body(), KindRefreshFailed))
	}

	record, err := c.decodeTokenResponse(resp.Body(), KindRefreshFailed)
	if err != nil {
		return nil, refreshFailed(err)
	}
	if record.RefreshToken == "" {
		record.RefreshToken = refreshToken
	}
	return record, nil
}

// RefreshTokenWithRetry refreshes with retry on transient failures.
// Network failures back off briefly and backend 5xx responses longer; any
// other failure returns immediately.
//
// Parameters:
//   - ctx: The context for the request
//   - refreshToken: The refresh token to use
//   - maxRetries: The maximum number of attempts
//
// Returns:
//   - *TokenRecord: The refreshed credentials
//   - error: The last error if every attempt fails
func (c *BackendClient) RefreshTokenWithRetry(ctx context.Context, refreshToken string, maxRetries int) (*TokenRecord, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, refreshFailed(WrapAuthError(ErrNetwork, ctx.Err()))
			case <-time.After(c.backoff(lastErr, attempt-1)):
			}
		}

		record, err := c.RefreshToken(ctx, refreshToken)
		if err == nil {
			return record, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		log.WithField("attempt", attempt).Warnf("token refresh attempt failed: %v", err)
	}
	return nil, lastErr
}

// ValidateToken asks the backend whether token is still accepted.
// Any failure, including transport errors, reports false.
func (c *BackendClient) ValidateToken(ctx context.Context, token string) bool {
	resp, err := c.request(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"token": token}).
		Post(c.cfg.EndpointURL(c.cfg.Endpoints.Validate))
	if err != nil {
		log.Debugf("token validation request failed: %v", err)
		return false
	}
	return resp.IsSuccess()
}

// GetUserProfile fetches the profile of the token's owner.
// The body may be a bare user object or wrapped as {"user": {...}}.
func (c *BackendClient) GetUserProfile(ctx context.Context, token string) (*UserProfile, error) {
	resp, err := c.request(ctx).
		SetAuthToken(token).
		Get(c.cfg.EndpointURL(c.cfg.Endpoints.Profile))
	if err != nil {
		return nil, WrapAuthError(ErrNetwork, fmt.Errorf("profile request failed: %w", err))
	}
	if !resp.IsSuccess() {
		return nil, classifyStatus(resp.StatusCode(), resp.Body(), KindBackend)
	}

	raw := resp.Body()
	if user := gjson.GetBytes(raw, "user"); user.IsObject() {
		raw = []byte(user.Raw)
	}
	var profile UserProfile
	if err = json.Unmarshal(raw, &profile); err != nil {
		return nil, NewAuthError(KindBackend, "malformed profile response", err)
	}
	return &profile, nil
}

// TestConnection reports whether the backend health endpoint answers with 2xx.
func (c *BackendClient) TestConnection(ctx context.Context) bool {
	resp, err := c.request(ctx).Get(c.cfg.EndpointURL(c.cfg.Endpoints.Health))
	if err != nil {
		log.Debugf("backend health probe failed: %v", err)
		return false
	}
	return resp.IsSuccess()
}

func (c *BackendClient) decodeTokenResponse(body []byte, failKind ErrorKind) (*TokenRecord, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, NewAuthError(failKind, "malformed token response", err)
	}
	if tr.Success != nil && !*tr.Success {
		return nil, NewAuthError(failKind, errorMessage(http.StatusOK, body), nil)
	}
	access := tr.accessToken()
	if access == "" {
		return nil, NewAuthError(failKind, "token response did not include an access token", nil)
	}

	now := c.now()
	var expiresAt int64
	switch {
	case tr.ExpiresIn > 0:
		expiresAt = now.Unix() + tr.ExpiresIn
	default:
		if exp, ok := jwtExpiry(access); ok {
			expiresAt = exp.Unix()
		} else {
			expiresAt = now.Add(defaultTokenLifetime).Unix()
		}
	}

	return &TokenRecord{
		AccessToken:  access,
		RefreshToken: strings.TrimSpace(tr.RefreshToken),
		ExpiresAt:    expiresAt,
		User:         tr.User,
	}, nil
}

// jwtExpiry reads the exp claim of a JWT access token without verifying it.
// The desktop client cannot verify backend signatures; the value only sizes the refresh window.
func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// classifyStatus maps a non-2xx response to an *AuthError.
// 5xx becomes backend_error, 401 invalid_token, everything else fallback.
func classifyStatus(status int, body []byte, fallback ErrorKind) *AuthError {
	kind := fallback
	switch {
	case status >= http.StatusInternalServerError:
		kind = KindBackend
	case status == http.StatusUnauthorized:
		kind = KindInvalidToken
	}
	return &AuthError{Kind: kind, Message: errorMessage(status, body), StatusCode: status}
}

// errorMessage extracts a human-readable message from a JSON error body,
// falling back to "HTTP <status>: <body>".
func errorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error_description", "error"} {
			if res := gjson.GetBytes(body, path); res.Type == gjson.String && strings.TrimSpace(res.String()) != "" {
				return strings.TrimSpace(res.String())
			}
		}
	}
	return fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
}

// refreshFailed wraps cause as a refresh_failed error, keeping its message and status.
func refreshFailed(cause error) *AuthError {
	if authErr, ok := errors.AsType[*AuthError](cause); ok {
		if authErr.Kind == KindRefreshFailed {
			return authErr
		}
		return &AuthError{
			Kind:       KindRefreshFailed,
			Message:    authErr.Message,
			StatusCode: authErr.StatusCode,
			Cause:      cause,
		}
	}
	return NewAuthError(KindRefreshFailed, "token refresh failed", cause)
}

// MaskedToken is a log helper for access tokens.
func MaskedToken(r *TokenRecord) string {
	if r == nil {
		return ""
	}
	return misc.MaskToken(r.AccessToken)
}
