// Package clipify implements the desktop OAuth2 Authorization Code + PKCE flow
// used by the Clipify agent: PKCE and state generation, the single pending
// authorization request, callback validation, and the backend token client.
package clipify

import (
	"strings"
	"time"
)

// ExpiryBuffer is subtracted from the wire expiry before a token is treated as valid.
const ExpiryBuffer = 5 * time.Minute

// UserProfile is the account information attached to a token.
type UserProfile struct {
	ID      string `json:"id" cbor:"1,keyasint"`
	Email   string `json:"email" cbor:"2,keyasint"`
	Name    string `json:"name" cbor:"3,keyasint"`
	Picture string `json:"picture,omitempty" cbor:"4,keyasint,omitempty"`
	Plan    string `json:"plan" cbor:"5,keyasint"`
}

// UserPatch carries a partial profile update. Nil fields are left untouched.
type UserPatch struct {
	ID      *string
	Email   *string
	Name    *string
	Picture *string
	Plan    *string
}

// PatchFromProfile builds a patch that overwrites every non-empty field of p.
func PatchFromProfile(p *UserProfile) UserPatch {
	var patch UserPatch
	if p == nil {
		return patch
	}
	set := func(v string) *string {
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return new(v)
	}
	patch.ID = set(p.ID)
	patch.Email = set(p.Email)
	patch.Name = set(p.Name)
	patch.Picture = set(p.Picture)
	patch.Plan = set(p.Plan)
	return patch
}

// Apply merges the patch into u.
func (p UserPatch) Apply(u *UserProfile) {
	if u == nil {
		return
	}
	if p.ID != nil {
		u.ID = *p.ID
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Picture != nil {
		u.Picture = *p.Picture
	}
	if p.Plan != nil {
		u.Plan = *p.Plan
	}
}

// TokenRecord is the persisted credential set for the single signed-in user.
type TokenRecord struct {
	AccessToken  string      `json:"accessToken" cbor:"1,keyasint"`
	RefreshToken string      `json:"refreshToken,omitempty" cbor:"2,keyasint,omitempty"`
	ExpiresAt    int64       `json:"expiresAt" cbor:"3,keyasint"`
	User         UserProfile `json:"user" cbor:"4,keyasint"`
}

// ExpiryTime returns ExpiresAt as a time.Time.
func (r *TokenRecord) ExpiryTime() time.Time {
	return time.Unix(r.ExpiresAt, 0)
}

// ExpiredAt reports whether the record is expired at now, applying ExpiryBuffer.
func (r *TokenRecord) ExpiredAt(now time.Time) bool {
	if r == nil {
		return true
	}
	return !now.Before(r.ExpiryTime().Add(-ExpiryBuffer))
}

// HasRefreshToken reports whether the record can be refreshed.
func (r *TokenRecord) HasRefreshToken() bool {
	return r != nil && strings.TrimSpace(r.RefreshToken) != ""
}

// Clone returns a deep copy of the record.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
