// Package authkestra orchestrates authentication across OAuth2/OIDC providers,
// credential providers, sessions and bearer tokens.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authkestra is the service façade. Protocol work lives in sub-packages:
// provider and oidc talk to identity providers, flow runs the authorization
// code exchange, jwt issues and validates tokens, session persists logins and
// guard turns requests into access decisions. The Engine ties them together
// and adds metrics and audit events.
//
// # What this package must NOT do
//
//   - Log or audit bearer secrets: session ids, tokens, codes or PKCE verifiers.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports authkestra (no import cycles).
//
// Every Engine error resolves through auth.KindOf to one of the closed error
// kinds, except construction errors from Builder and Config.Validate.
package authkestra
