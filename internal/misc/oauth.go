package misc

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// stateBytes is the number of random bytes behind every OAuth state value.
const stateBytes = 32

// GenerateRandomState generates a cryptographically secure random state parameter
// for OAuth2 flows to prevent CSRF attacks.
//
// Returns:
//   - string: A URL-safe base64 (unpadded) random state string
//   - error: An error if the random generation fails, nil otherwise
func GenerateRandomState() (string, error) {
	bytes := make([]byte, stateBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// OAuthCallback captures the parsed OAuth callback parameters.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// HasError reports whether the provider redirected back with an error.
func (c *OAuthCallback) HasError() bool {
	return c != nil && c.Error != ""
}

// ParseOAuthCallback extracts OAuth parameters from a callback URL such as
// clipify://auth/callback?code=...&state=....
//
// Missing parameters are not an error here; callers decide which fields they
// require. Only input that cannot be read as a URL is rejected.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("invalid callback URL: empty input")
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		if strings.HasPrefix(candidate, "?") {
			candidate = "http://localhost" + candidate
		} else if strings.Contains(candidate, "=") {
			candidate = "http://localhost/?" + candidate
		} else {
			return nil, fmt.Errorf("invalid callback URL: %q", trimmed)
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, fmt.Errorf("invalid callback URL: %w", err)
	}
	query, err := url.ParseQuery(parsedURL.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid callback query: %w", err)
	}

	cb := &OAuthCallback{
		Code:             strings.TrimSpace(query.Get("code")),
		State:            strings.TrimSpace(query.Get("state")),
		Error:            strings.TrimSpace(query.Get("error")),
		ErrorDescription: strings.TrimSpace(query.Get("error_description")),
	}

	// Some providers deliver the response in the fragment instead.
	if parsedURL.Fragment != "" {
		if fragQuery, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			if cb.Code == "" {
				cb.Code = strings.TrimSpace(fragQuery.Get("code"))
			}
			if cb.State == "" {
				cb.State = strings.TrimSpace(fragQuery.Get("state"))
			}
			if cb.Error == "" {
				cb.Error = strings.TrimSpace(fragQuery.Get("error"))
			}
			if cb.ErrorDescription == "" {
				cb.ErrorDescription = strings.TrimSpace(fragQuery.Get("error_description"))
			}
		}
	}

	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error = cb.ErrorDescription
		cb.ErrorDescription = ""
	}

	return cb, nil
}
