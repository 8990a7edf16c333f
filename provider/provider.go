package provider

import (
	"context"

	"github.com/marcjazz/authkestra/auth"
)

// OAuthProvider is an authorization-code capable identity provider.
//
// Network operations honour ctx cancellation. A timeout surfaces as
// auth.ErrProviderUnavailable.
type OAuthProvider interface {
	// ID identifies the provider, e.g. "github" or an issuer URL. It becomes
	// Identity.ProviderID.
	ID() string

	// AuthorizationURL builds the URL the user agent is redirected to.
	// codeChallenge is the S256 PKCE challenge, or "" when PKCE is off.
	AuthorizationURL(state string, scopes []string, codeChallenge string) (string, error)

	// ExchangeCode trades the authorization code (and PKCE verifier) for the
	// user's Identity and tokens. It fails with InvalidAuthorizationCode,
	// ProviderRejected or ProviderUnavailable.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (auth.Identity, auth.TokenSet, error)

	// Refresh obtains a new token set from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (auth.TokenSet, error)

	// Revoke invalidates an access or refresh token at the provider.
	Revoke(ctx context.Context, token string) error
}

// CredentialsProvider authenticates directly presented credentials of type C,
// for example a username/password pair or an API key.
type CredentialsProvider[C any] interface {
	// Authenticate fails with auth.ErrInvalidCredentials when creds do not match.
	Authenticate(ctx context.Context, creds C) (auth.Identity, error)
}

// CredentialsFunc adapts a function to CredentialsProvider.
type CredentialsFunc[C any] func(ctx context.Context, creds C) (auth.Identity, error)

// Authenticate calls f.
func (f CredentialsFunc[C]) Authenticate(ctx context.Context, creds C) (auth.Identity, error) {
	return f(ctx, creds)
}

// UserMapper maps a provider Identity onto an application user record.
type UserMapper[U any] interface {
	MapUser(ctx context.Context, identity auth.Identity) (U, error)
}

// UserMapperFunc adapts a function to UserMapper.
type UserMapperFunc[U any] func(ctx context.Context, identity auth.Identity) (U, error)

// MapUser calls f.
func (f UserMapperFunc[U]) MapUser(ctx context.Context, identity auth.Identity) (U, error) {
	return f(ctx, identity)
}
