// Package middleware adapts guard decisions to net/http.
//
// # Guards
//
//   - [Guard] runs any *guard.Guard through Engine.Authenticate.
//   - [RequireToken] accepts a bearer token only; no session store call.
//   - [RequireStrict] requires a session cookie and a bearer token that name
//     the same identity.
//
// Each guard converts the request with guard.FromHTTP and stores the granted
// guard.Decision in the request context. Denials are answered with a JSON
// body carrying the error kind; see [StatusFor] for the status mapping.
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or read sessions itself.
package middleware
