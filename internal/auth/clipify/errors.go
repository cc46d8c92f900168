package clipify

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies authentication failures.
type ErrorKind string

const (
	KindNetwork            ErrorKind = "network_error"
	KindInvalidState       ErrorKind = "invalid_state"
	KindMissingState       ErrorKind = "missing_state"
	KindMissingCode        ErrorKind = "missing_code"
	KindOAuthDenied        ErrorKind = "oauth_denied"
	KindTokenExpired       ErrorKind = "token_expired"
	KindInvalidToken       ErrorKind = "invalid_token"
	KindBackend            ErrorKind = "backend_error"
	KindStorage            ErrorKind = "storage_error"
	KindUserCancelled      ErrorKind = "user_cancelled"
	KindInvalidCallbackURL ErrorKind = "invalid_callback_url"
	KindExchangeFailed     ErrorKind = "exchange_failed"
	KindRefreshFailed      ErrorKind = "refresh_failed"
	KindNoTokenToUpdate    ErrorKind = "no_token_to_update"
	KindBrowserOpenFailed  ErrorKind = "browser_open_failed"

	// KindLoginUnavailable covers local failures before the browser opens:
	// the deep-link listener or the state/PKCE generator.
	KindLoginUnavailable ErrorKind = "login_unavailable"
)

// AuthError represents a classified authentication failure.
type AuthError struct {
	// Kind is the failure class used for retry and UI decisions.
	Kind ErrorKind `json:"kind"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code carries the provider error code for oauth_denied failures.
	Code string `json:"code,omitempty"`
	// StatusCode is the HTTP status code associated with the error, if any.
	StatusCode int `json:"status_code,omitempty"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *AuthError) Unwrap() error { return e.Cause }

// Is matches any *AuthError of the same kind, so sentinels work with errors.Is.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Common authentication errors.
var (
	ErrNetwork = &AuthError{Kind: KindNetwork, Message: "Network request failed"}

	ErrInvalidState = &AuthError{
		Kind:       KindInvalidState,
		Message:    "OAuth state parameter is invalid or expired",
		StatusCode: http.StatusBadRequest,
	}

	ErrMissingState = &AuthError{
		Kind:       KindMissingState,
		Message:    "OAuth callback is missing the state parameter",
		StatusCode: http.StatusBadRequest,
	}

	ErrMissingCode = &AuthError{
		Kind:       KindMissingCode,
		Message:    "OAuth callback is missing the authorization code",
		StatusCode: http.StatusBadRequest,
	}

	ErrOAuthDenied = &AuthError{Kind: KindOAuthDenied, Message: "Authorization was denied"}

	ErrTokenExpired = &AuthError{
		Kind:       KindTokenExpired,
		Message:    "Access token has expired",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidToken = &AuthError{
		Kind:       KindInvalidToken,
		Message:    "Access token is invalid",
		StatusCode: http.StatusUnauthorized,
	}

	ErrBackend = &AuthError{Kind: KindBackend, Message: "Backend request failed"}

	ErrStorage = &AuthError{Kind: KindStorage, Message: "Secure storage operation failed"}

	ErrUserCancelled = &AuthError{Kind: KindUserCancelled, Message: "Authentication was cancelled"}

	ErrInvalidCallbackURL = &AuthError{
		Kind:       KindInvalidCallbackURL,
		Message:    "Callback URL could not be parsed",
		StatusCode: http.StatusBadRequest,
	}

	ErrExchangeFailed = &AuthError{
		Kind:    KindExchangeFailed,
		Message: "Failed to exchange authorization code for tokens",
	}

	ErrRefreshFailed = &AuthError{Kind: KindRefreshFailed, Message: "Failed to refresh access token"}

	ErrNoTokenToUpdate = &AuthError{Kind: KindNoTokenToUpdate, Message: "No stored token to update"}

	ErrBrowserOpenFailed = &AuthError{
		Kind:    KindBrowserOpenFailed,
		Message: "Failed to open the system browser",
	}
)

// NewAuthError creates an authentication error of the given kind.
func NewAuthError(kind ErrorKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Cause: cause}
}

// WrapAuthError copies a base error and attaches a cause.
func WrapAuthError(base *AuthError, cause error) *AuthError {
	return &AuthError{
		Kind:       base.Kind,
		Message:    base.Message,
		Code:       base.Code,
		StatusCode: base.StatusCode,
		Cause:      cause,
	}
}

// NewOAuthDeniedError builds the error reported when the provider returns error=... on the callback.
func NewOAuthDeniedError(code, description string) *AuthError {
	message := code
	switch {
	case code == "":
		message = description
	case description != "":
		message = code + ": " + description
	}
	return &AuthError{Kind: KindOAuthDenied, Message: message, Code: code}
}

// AsAuthError extracts an *AuthError from err.
func AsAuthError(err error) (*AuthError, bool) {
	return errors.AsType[*AuthError](err)
}

// KindOf returns the kind of the first *AuthError in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	if authErr, ok := AsAuthError(err); ok {
		return authErr.Kind
	}
	return ""
}

// IsRetryable reports whether the operation that produced err may be retried.
// Only transport failures and backend 5xx responses qualify. A refresh failure is
// retryable when its cause is.
func IsRetryable(err error) bool {
	authErr, ok := AsAuthError(err)
	if !ok {
		return false
	}
	switch authErr.Kind {
	case KindNetwork, KindBackend:
		return true
	case KindRefreshFailed, KindExchangeFailed:
		return authErr.Cause != nil && IsRetryable(authErr.Cause)
	default:
		return false
	}
}

// RetryBackoff returns the wait before retry attempt n (1-based) for err.
// Network failures back off briefly, backend failures longer.
func RetryBackoff(err error, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Second
	if rootKind(err) == KindBackend {
		base = 3 * time.Second
	}
	return time.Duration(attempt) * base
}

func rootKind(err error) ErrorKind {
	kind := ErrorKind("")
	for err != nil {
		authErr, ok := AsAuthError(err)
		if !ok {
			break
		}
		kind = authErr.Kind
		err = authErr.Cause
	}
	return kind
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error kind.
func GetUserFriendlyMessage(err error) string {
	authErr, ok := AsAuthError(err)
	if !ok {
		return "An unexpected error occurred. Please try again."
	}
	switch authErr.Kind {
	case KindNetwork:
		return "Could not reach the Clipify servers. Check your connection and try again."
	case KindInvalidState, KindMissingState, KindInvalidCallbackURL:
		return "The sign-in link was invalid or has expired. Please start the login again."
	case KindMissingCode:
		return "The sign-in response was incomplete. Please try again."
	case KindOAuthDenied:
		if authErr.Message != "" {
			return fmt.Sprintf("Sign-in was denied: %s", authErr.Message)
		}
		return "Sign-in was cancelled or denied."
	case KindTokenExpired, KindInvalidToken, KindRefreshFailed:
		return "Your session has expired. Please log in again."
	case KindBackend:
		return "Clipify servers are having trouble. Please try again later."
	case KindStorage:
		return "Your credentials could not be saved securely."
	case KindUserCancelled:
		return "Sign-in was cancelled."
	case KindBrowserOpenFailed:
		return "Could not open your browser automatically. Please copy and paste the URL manually."
	case KindLoginUnavailable:
		return "Clipify could not start the sign-in on this device. Please restart the app and try again."
	case KindExchangeFailed:
		if authErr.Message != "" {
			return fmt.Sprintf("Sign-in failed: %s", authErr.Message)
		}
		return "Sign-in failed. Please try again."
	default:
		return "Authentication failed. Please try again."
	}
}
