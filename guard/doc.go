// Package guard combines authentication strategies into one access decision.
//
// A Strategy inspects a Request and returns an Identity, an error, or
// (nil, nil) when the request carries nothing it understands. A Guard runs its
// strategies under a Policy:
//
//   - FirstSuccess tries strategies in order and accepts the first Identity.
//   - AllSuccess runs every strategy concurrently; all must succeed and agree.
//   - FailFast is FirstSuccess that stops at the first non-recoverable error.
//
// A denied request yields a *Failure that lists every attempt.
package guard
