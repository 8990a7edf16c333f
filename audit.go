package authkestra

import (
	"context"
	"io"
	"log/slog"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/internal/audit"
)

// AuditEvent is a structured record of an authentication outcome.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink logs audit events through a *slog.Logger.
type SlogSink = audit.SlogSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	return audit.NewSlogSink(logger, level)
}

// Audit event types.
const (
	AuditLoginSucceeded = "login_succeeded"
	AuditLoginFailed    = "login_failed"
	AuditSessionCreated = "session_created"
	AuditSessionRevoked = "session_revoked"
	AuditTokenIssued    = "token_issued"
	AuditAccessGranted  = "access_granted"
	AuditAccessDenied   = "access_denied"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, identity auth.Identity, err error, meta map[string]string) {
	if e.audit == nil {
		return
	}
	event := audit.NewEvent(eventType, err == nil, e.now())
	event.Provider = identity.ProviderID()
	event.Subject = identity.ExternalID()
	event.IP = clientIPFromContext(ctx)
	if err != nil {
		event.ErrorKind = auth.KindOf(err).String()
	}
	event.Metadata = meta
	e.audit.Emit(ctx, event)
}
