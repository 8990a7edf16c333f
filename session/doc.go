// Package session defines the session persistence contract and the session
// record shared by its backends.
//
// A [Store] loads, saves and deletes [Session] values by id. Backends live in
// sub-packages: session/memory keeps sessions in process, session/redis
// persists them in Redis using the versioned binary encoding of [Encode].
//
// Store implementations report backend failures as auth.ErrProviderUnavailable
// and report an absent or expired session as (nil, nil) from Load. A Save with
// an already cancelled context never writes.
package session
