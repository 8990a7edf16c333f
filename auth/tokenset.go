package auth

import "time"

// TokenSet is the credential material returned by a provider token endpoint.
type TokenSet struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	IDToken      string
	Scope        string
	Expiry       time.Time
}

// Expired reports whether the access token is past its expiry at now.
// A zero Expiry never expires.
func (t TokenSet) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}
