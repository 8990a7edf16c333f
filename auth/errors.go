package auth

import (
	"errors"
	"fmt"
)

// Kind classifies every failure produced by the authentication core.
//
// The set is closed: components translate library and transport errors onto one
// of these kinds instead of returning untyped strings.
type Kind uint8

const (
	// KindUnknown is returned by KindOf for errors that did not originate here.
	KindUnknown Kind = iota
	// KindInvalidCredentials means the presented credentials did not authenticate.
	KindInvalidCredentials
	// KindInvalidAuthorizationCode means the provider refused the code (or its PKCE verifier).
	KindInvalidAuthorizationCode
	// KindProviderUnavailable covers network failures, timeouts, 5xx and storage outages.
	KindProviderUnavailable
	// KindProviderRejected covers 4xx responses and malformed provider payloads.
	KindProviderRejected
	// KindTokenExpired means exp is in the past.
	KindTokenExpired
	// KindTokenSignatureInvalid covers bad signatures, disallowed algorithms and
	// malformed tokens, session ids or Basic credentials.
	KindTokenSignatureInvalid
	// KindTokenClaimMismatch covers iss/aud/scope/iat mismatches and identity conflicts.
	KindTokenClaimMismatch
	// KindStateMismatch means the CSRF state did not match or the login attempt is stale.
	KindStateMismatch
	// KindDiscoveryFailed means the OIDC discovery document was unusable.
	KindDiscoveryFailed
	// KindKeyNotFound means no verification key exists for the token kid, even after a refresh.
	KindKeyNotFound
)

var (
	// ErrInvalidCredentials is the sentinel for KindInvalidCredentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidAuthorizationCode is the sentinel for KindInvalidAuthorizationCode.
	ErrInvalidAuthorizationCode = errors.New("invalid authorization code")
	// ErrProviderUnavailable is the sentinel for KindProviderUnavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderRejected is the sentinel for KindProviderRejected.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrTokenExpired is the sentinel for KindTokenExpired.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignatureInvalid is the sentinel for KindTokenSignatureInvalid.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenClaimMismatch is the sentinel for KindTokenClaimMismatch.
	ErrTokenClaimMismatch = errors.New("token claim mismatch")
	// ErrStateMismatch is the sentinel for KindStateMismatch.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrDiscoveryFailed is the sentinel for KindDiscoveryFailed.
	ErrDiscoveryFailed = errors.New("discovery failed")
	// ErrKeyNotFound is the sentinel for KindKeyNotFound.
	ErrKeyNotFound = errors.New("verification key not found")
)

var kindSentinels = [...]error{
	KindInvalidCredentials:       ErrInvalidCredentials,
	KindInvalidAuthorizationCode: ErrInvalidAuthorizationCode,
	KindProviderUnavailable:      ErrProviderUnavailable,
	KindProviderRejected:         ErrProviderRejected,
	KindTokenExpired:             ErrTokenExpired,
	KindTokenSignatureInvalid:    ErrTokenSignatureInvalid,
	KindTokenClaimMismatch:       ErrTokenClaimMismatch,
	KindStateMismatch:            ErrStateMismatch,
	KindDiscoveryFailed:          ErrDiscoveryFailed,
	KindKeyNotFound:              ErrKeyNotFound,
}

var kindNames = [...]string{
	KindUnknown:                  "Unknown",
	KindInvalidCredentials:       "InvalidCredentials",
	KindInvalidAuthorizationCode: "InvalidAuthorizationCode",
	KindProviderUnavailable:      "ProviderUnavailable",
	KindProviderRejected:         "ProviderRejected",
	KindTokenExpired:             "TokenExpired",
	KindTokenSignatureInvalid:    "TokenSignatureInvalid",
	KindTokenClaimMismatch:       "TokenClaimMismatch",
	KindStateMismatch:            "StateMismatch",
	KindDiscoveryFailed:          "DiscoveryFailed",
	KindKeyNotFound:              "KeyNotFound",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Err returns the sentinel error for k, or nil for KindUnknown.
func (k Kind) Err() error {
	if k == KindUnknown || int(k) >= len(kindSentinels) {
		return nil
	}
	return kindSentinels[k]
}

// Recoverable reports whether a failure of this kind only means the presented
// credential did not authenticate. Every other kind signals malformed input,
// a forged or tampered artifact, or a backend outage.
func (k Kind) Recoverable() bool {
	switch k {
	case KindTokenExpired, KindInvalidCredentials:
		return true
	default:
		return false
	}
}

// KindOf resolves err to its taxonomy kind. Errors that do not wrap one of the
// sentinels resolve to KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for k := KindInvalidCredentials; int(k) < len(kindSentinels); k++ {
		if errors.Is(err, kindSentinels[k]) {
			return k
		}
	}
	return KindUnknown
}

// Wrap attaches cause to the sentinel of kind. errors.Is matches the sentinel;
// the cause is kept as text only so library error types do not leak.
func Wrap(kind Kind, cause error) error {
	sentinel := kind.Err()
	if sentinel == nil {
		return cause
	}
	if cause == nil {
		return sentinel
	}
	if KindOf(cause) == kind {
		return cause
	}
	return fmt.Errorf("%w: %v", sentinel, cause)
}

// Errorf formats a detail message behind the sentinel of kind.
func Errorf(kind Kind, format string, args ...any) error {
	sentinel := kind.Err()
	if sentinel == nil {
		return fmt.Errorf(format, args...)
	}
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
