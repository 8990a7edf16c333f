// Package oidc adds OpenID Connect on top of the OAuth2 provider layer:
// discovery of issuer metadata, ID token validation against a JWKS cache, and
// an OAuthProvider whose identities come from validated ID tokens.
//
// Discovery runs once, when a Provider is constructed. The resulting Metadata
// is immutable for the lifetime of the Provider.
package oidc

const tracerName = "github.com/marcjazz/authkestra/oidc"
