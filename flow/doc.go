// Package flow drives the OAuth2 authorization code login.
//
// An Orchestrator is stateless: Initiate returns the authorization URL and an
// AuthorizationRequest that the caller stores (cookie, server cache) until the
// callback arrives; Finalize checks the returned state against it before the
// provider is contacted. A request moves Initiated → AwaitingCallback →
// Finalized, or to Failed, and is never accepted twice.
package flow

const tracerName = "github.com/marcjazz/authkestra/flow"
