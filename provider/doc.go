// Package provider defines the capability contracts implemented by identity
// providers.
//
// [OAuthProvider] and [CredentialsProvider] are deliberately separate: an OAuth
// provider never has to stub out password checks and a credentials backend
// never has to pretend to issue authorization URLs. Concrete providers live
// outside the core; [OAuth2Client] is the shared plumbing for those built on
// golang.org/x/oauth2 (see provider/generic and oidc).
package provider
