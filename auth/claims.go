package auth

import (
	"slices"
	"strings"
	"time"
)

// SubjectKind discriminates the subject of a token.
type SubjectKind string

const (
	// SubjectUser marks a token issued for an end user Identity.
	SubjectUser SubjectKind = "user"
	// SubjectClient marks a machine-to-machine token issued to an OAuth client.
	SubjectClient SubjectKind = "client"
)

// Valid reports whether k is one of the known subject kinds.
func (k SubjectKind) Valid() bool {
	return k == SubjectUser || k == SubjectClient
}

// Claims is the verified payload of a bearer token.
//
// Claims never embeds an Identity: a client token has no email or display
// name, and a user token only carries the subject identifier.
type Claims struct {
	Subject     string
	SubjectKind SubjectKind
	Issuer      string
	Audience    []string
	ExpiresAt   time.Time
	IssuedAt    time.Time
	ID          string
	Scope       string
	Custom      map[string]any
}

// Scopes splits the space delimited scope claim.
func (c *Claims) Scopes() []string {
	if c == nil {
		return nil
	}
	return strings.Fields(c.Scope)
}

// HasScope reports whether scope is granted by the token.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

// HasAudience reports whether aud is one of the token audiences.
func (c *Claims) HasAudience(aud string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Audience, aud)
}
