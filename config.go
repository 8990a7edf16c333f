package authkestra

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/marcjazz/authkestra/guard"
)

// Config defines the Engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Session SessionConfig
	Token   TokenConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls sessions created by the Engine.
type SessionConfig struct {
	// TTL is the lifetime of a new session. Sessions are not extended on use.
	TTL time.Duration
	// CookieName is read by the Engine's session strategy.
	CookieName string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls bearer tokens issued by the Engine.
type TokenConfig struct {
	UserTTL   time.Duration
	ClientTTL time.Duration
	// EmbedProvider stamps the identity provider id into user tokens so the
	// token strategy rebuilds the same Identity a session holds.
	EmbedProvider bool
	// RequiredScopes are demanded by the Engine's token strategy.
	RequiredScopes []string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULTS
====================================
*/

const (
	// DefaultSessionTTL is the lifetime of sessions created without an explicit TTL.
	DefaultSessionTTL = 24 * time.Hour
	// DefaultUserTokenTTL is the lifetime of user tokens.
	DefaultUserTokenTTL = 15 * time.Minute
	// DefaultClientTokenTTL is the lifetime of client tokens.
	DefaultClientTokenTTL = time.Hour

	maxTokenTTL = 24 * time.Hour
)

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:        DefaultSessionTTL,
			CookieName: guard.DefaultSessionCookie,
		},
		Token: TokenConfig{
			UserTTL:       DefaultUserTokenTTL,
			ClientTTL:     DefaultClientTokenTTL,
			EmbedProvider: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.RequiredScopes = slices.Clone(cfg.Token.RequiredScopes)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if !validCookieName(c.Session.CookieName) {
		return errors.New("Session CookieName is not a valid cookie name")
	}

	// Token
	if c.Token.UserTTL <= 0 || c.Token.UserTTL > maxTokenTTL {
		return errors.New("Token UserTTL must be in (0, 24h]")
	}
	if c.Token.ClientTTL <= 0 || c.Token.ClientTTL > maxTokenTTL {
		return errors.New("Token ClientTTL must be in (0, 24h]")
	}
	for _, scope := range c.Token.RequiredScopes {
		if scope == "" || strings.ContainsAny(scope, " \t\n") {
			return errors.New("Token RequiredScopes entries must be single non-empty scope tokens")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

func validCookieName(name string) bool {
	if name == "" {
		return false
	}
	c := &http.Cookie{Name: name, Value: "v"}
	return c.Valid() == nil
}
