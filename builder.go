package authkestra

import (
	"errors"
	"log/slog"
	"time"

	"github.com/marcjazz/authkestra/internal/audit"
	"github.com/marcjazz/authkestra/jwt"
	"github.com/marcjazz/authkestra/session"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config

	sessions  session.Store
	tokens    *jwt.Manager
	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSessionStore enables sessions.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessions = store
	return b
}

// WithTokenManager enables bearer tokens.
func (b *Builder) WithTokenManager(m *jwt.Manager) *Builder {
	b.tokens = m
	return b
}

// WithLogger sets the engine logger. Nil keeps slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the sink. A non-nil sink turns auditing on.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled turns the in-process counters on or off.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms records validation latency. It needs metrics enabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns the Engine. At least one of a
// session store or a token manager is required.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.auditSink != nil {
		cfg.Audit.Enabled = true
		if cfg.Audit.BufferSize <= 0 {
			cfg.Audit.BufferSize = DefaultConfig().Audit.BufferSize
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.sessions == nil && b.tokens == nil {
		return nil, errors.New("a session store or a token manager is required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:   cfg,
		sessions: b.sessions,
		tokens:   b.tokens,
		logger:   logger.With(slog.String("component", "authkestra")),
		now:      now,
		metrics:  NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	b.built = true

	return engine, nil
}
