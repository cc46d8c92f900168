package deeplink

import "net/url"

// ClaimFunc reports whether this process should consume a deep link.
type ClaimFunc func(rawURL string) bool

// PendingStateSource reports the state of the login this process is waiting for.
type PendingStateSource interface {
	Pending() (string, bool)
}

// ClaimPending claims the auth callbacks that belong to the login pending in
// flow. A callback matches when its state equals the pending state, or when it
// carries no state while a login is pending. Links that are not auth callbacks
// are always claimed.
func ClaimPending(flow PendingStateSource) ClaimFunc {
	return func(rawURL string) bool {
		if !IsAuthCallback(rawURL) {
			return true
		}
		pending, ok := flow.Pending()
		if !ok {
			return false
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return false
		}
		state := u.Query().Get("state")
		return state == "" || state == pending
	}
}
