// Package audit implements async event dispatching for authentication outcomes.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with id, timestamp, type, provider, subject, IP.
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; that belongs to the Engine. Events never carry bearer secrets
// (session ids, tokens, codes).
package audit
