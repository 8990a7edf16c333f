// Package internal contains helpers that are private to authkestra: secure
// random identifiers (session ids, CSRF state) and constant-time comparison.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - oauthtest: an in-process OAuth2/OIDC provider for tests
//
// # What this package must NOT do
//
//   - Export types that appear in the public authkestra API.
//   - Be imported by any package outside the authkestra module.
package internal
