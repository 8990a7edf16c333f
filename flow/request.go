package flow

import (
	"fmt"
	"time"

	"github.com/marcjazz/authkestra/auth"
)

// Status is the lifecycle state of an AuthorizationRequest.
type Status int

const (
	StatusInitiated Status = iota
	StatusAwaitingCallback
	StatusFinalized
	StatusFailed
)

var statusNames = [...]string{"initiated", "awaiting_callback", "finalized", "failed"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown flow status %q", b)
}

// ChallengeMethodS256 is the only PKCE transform this package produces.
const ChallengeMethodS256 = "S256"

// AuthorizationRequest is the transient record of one login attempt. The
// caller owns its storage between Initiate and Finalize; the verifier must
// not leave the server side.
type AuthorizationRequest struct {
	ProviderID      string    `json:"provider_id"`
	State           string    `json:"state"`
	CodeVerifier    string    `json:"code_verifier,omitempty"`
	CodeChallenge   string    `json:"code_challenge,omitempty"`
	ChallengeMethod string    `json:"challenge_method,omitempty"`
	Scopes          []string  `json:"scopes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Status          Status    `json:"status"`
	// FailureKind records why a Failed request failed.
	FailureKind auth.Kind `json:"failure_kind,omitempty"`
}

// Expired reports whether the request window has closed at now.
func (r *AuthorizationRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// UsesPKCE reports whether the request carries a code verifier.
func (r *AuthorizationRequest) UsesPKCE() bool { return r.CodeVerifier != "" }

func (r *AuthorizationRequest) fail(kind auth.Kind) {
	if r.Status == StatusAwaitingCallback || r.Status == StatusInitiated {
		r.Status = StatusFailed
		r.FailureKind = kind
	}
}
