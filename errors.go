package authkestra

import (
	"errors"

	"github.com/marcjazz/authkestra/auth"
)

var (
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrSessionsDisabled is returned by session methods when no session.Store was configured.
	ErrSessionsDisabled = errors.New("session store not configured")
	// ErrTokensDisabled is returned by token methods when no jwt.Manager was configured.
	ErrTokensDisabled = errors.New("token manager not configured")
)

// Error kinds re-exported for callers that only import the façade.
var (
	ErrInvalidCredentials       = auth.ErrInvalidCredentials
	ErrInvalidAuthorizationCode = auth.ErrInvalidAuthorizationCode
	ErrProviderUnavailable      = auth.ErrProviderUnavailable
	ErrProviderRejected         = auth.ErrProviderRejected
	ErrTokenExpired             = auth.ErrTokenExpired
	ErrTokenSignatureInvalid    = auth.ErrTokenSignatureInvalid
	ErrTokenClaimMismatch       = auth.ErrTokenClaimMismatch
	ErrStateMismatch            = auth.ErrStateMismatch
	ErrDiscoveryFailed          = auth.ErrDiscoveryFailed
	ErrKeyNotFound              = auth.ErrKeyNotFound
)
