// Package jwks caches JSON Web Key Set verification keys by kid.
//
// A [Cache] is an explicitly owned object: construct one per issuer and inject
// it into the components that verify tokens for that issuer. Lookups are
// concurrent; a miss for an unknown kid triggers at most one in-flight fetch,
// shared by every goroutine waiting on the same kid. A kid that is still
// missing after that fetch fails with [auth.ErrKeyNotFound].
package jwks
