package authkestra

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/flow"
	"github.com/marcjazz/authkestra/guard"
	"github.com/marcjazz/authkestra/internal/audit"
	"github.com/marcjazz/authkestra/jwt"
	"github.com/marcjazz/authkestra/session"
)

// Engine is the authentication façade. It is safe for concurrent use.
type Engine struct {
	config   Config
	sessions session.Store
	tokens   *jwt.Manager
	logger   *slog.Logger
	audit    *audit.Dispatcher
	metrics  *Metrics
	now      func() time.Time
}

// Finalizer completes an authorization code login. *flow.Orchestrator
// implements it.
type Finalizer interface {
	Finalize(ctx context.Context, code, state string, req *flow.AuthorizationRequest) (*flow.Result, error)
}

// Login is the outcome of a completed login.
type Login struct {
	Identity auth.Identity
	// Session is nil when the Engine has no session store.
	Session *session.Session
	// AccessToken is empty when the Engine has no token manager.
	AccessToken string
	// ProviderTokens are the provider's own tokens. They are empty for
	// credential logins.
	ProviderTokens auth.TokenSet
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped counts audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// FinalizeLogin completes the authorization code callback through f and then
// creates a session and issues an access token, as configured. A failed
// callback returns the Finalizer's error unchanged.
func (e *Engine) FinalizeLogin(ctx context.Context, f Finalizer, code, state string, req *flow.AuthorizationRequest) (*Login, error) {
	if e == nil || f == nil {
		return nil, ErrEngineNotReady
	}
	providerID := ""
	if req != nil {
		providerID = req.ProviderID
	}

	result, err := f.Finalize(ctx, code, state, req)
	if err != nil {
		e.loginFailed(ctx, providerID, err)
		return nil, err
	}

	login, err := e.completeLogin(ctx, result.Identity)
	if err != nil {
		e.loginFailed(ctx, providerID, err)
		return nil, err
	}
	login.ProviderTokens = result.Tokens
	return login, nil
}

// LoginWithCredentials authenticates creds through c and completes the login
// like FinalizeLogin.
func LoginWithCredentials[C any](ctx context.Context, e *Engine, c *flow.Credentials[C], creds C) (*Login, error) {
	if e == nil || c == nil {
		return nil, ErrEngineNotReady
	}
	identity, err := c.Authenticate(ctx, creds)
	if err != nil {
		e.loginFailed(ctx, "", err)
		return nil, err
	}
	login, err := e.completeLogin(ctx, identity)
	if err != nil {
		e.loginFailed(ctx, identity.ProviderID(), err)
		return nil, err
	}
	return login, nil
}

func (e *Engine) completeLogin(ctx context.Context, identity auth.Identity) (*Login, error) {
	login := &Login{Identity: identity}
	if e.sessions != nil {
		s, err := e.CreateSession(ctx, identity)
		if err != nil {
			return nil, err
		}
		login.Session = s
	}
	if e.tokens != nil {
		token, err := e.IssueUserToken(ctx, identity, jwt.Extra{})
		if err != nil {
			if login.Session != nil {
				_ = e.sessions.Delete(context.WithoutCancel(ctx), login.Session.ID)
			}
			return nil, err
		}
		login.AccessToken = token
	}

	e.metricInc(MetricLoginSuccess)
	e.logger.InfoContext(ctx, "login succeeded",
		slog.String("provider", identity.ProviderID()),
		slog.String("subject", identity.ExternalID()),
	)
	meta := map[string]string{}
	if ua := userAgentFromContext(ctx); ua != "" {
		meta["user_agent"] = ua
	}
	e.emitAudit(ctx, AuditLoginSucceeded, identity, nil, meta)
	return login, nil
}

func (e *Engine) loginFailed(ctx context.Context, providerID string, err error) {
	kind := auth.KindOf(err)
	e.metricInc(MetricLoginFailure)
	switch kind {
	case auth.KindStateMismatch:
		e.metricInc(MetricStateMismatch)
	case auth.KindProviderUnavailable:
		e.metricInc(MetricProviderUnavailable)
	}

	level := slog.LevelInfo
	if !kind.Recoverable() {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "login failed",
		slog.String("provider", providerID),
		slog.String("kind", kind.String()),
	)

	var meta map[string]string
	if providerID != "" {
		meta = map[string]string{"provider": providerID}
	}
	e.emitAudit(ctx, AuditLoginFailed, auth.Identity{}, err, meta)
}

// CreateSession persists a new session for identity with the configured TTL.
func (e *Engine) CreateSession(ctx context.Context, identity auth.Identity) (*session.Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.CreateSessionWithTTL(ctx, identity, e.config.Session.TTL)
}

// CreateSessionWithTTL is CreateSession with an explicit lifetime. A
// non-positive ttl uses the configured TTL.
func (e *Engine) CreateSessionWithTTL(ctx context.Context, identity auth.Identity, ttl time.Duration) (*session.Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	if ttl <= 0 {
		ttl = e.config.Session.TTL
	}
	s, err := session.NewSession(identity, ttl, e.now())
	if err != nil {
		return nil, auth.Wrap(auth.KindProviderRejected, err)
	}
	if err := e.sessions.Save(ctx, s); err != nil {
		if auth.KindOf(err) == auth.KindProviderUnavailable {
			e.metricInc(MetricProviderUnavailable)
		}
		e.logger.WarnContext(ctx, "session save failed",
			slog.String("provider", identity.ProviderID()),
			slog.String("kind", auth.KindOf(err).String()),
		)
		return nil, err
	}
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, AuditSessionCreated, identity, nil, nil)
	return s, nil
}

// Session loads a live session. It returns (nil, nil) for an unknown or
// expired id.
func (e *Engine) Session(ctx context.Context, id string) (*session.Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	if !session.ValidID(id) {
		return nil, nil
	}
	s, err := e.sessions.Load(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Expired(e.now()) {
		return nil, nil
	}
	return s, nil
}

// Logout deletes the session. Unknown ids are not an error.
func (e *Engine) Logout(ctx context.Context, id string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.sessions == nil {
		return ErrSessionsDisabled
	}
	if !session.ValidID(id) {
		return nil
	}
	var identity auth.Identity
	if s, err := e.sessions.Load(ctx, id); err == nil && s != nil {
		identity = s.Identity
	}
	if err := e.sessions.Delete(ctx, id); err != nil {
		return err
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, AuditSessionRevoked, identity, nil, nil)
	return nil
}

// IssueUserToken signs an access token for identity with the configured TTL.
func (e *Engine) IssueUserToken(ctx context.Context, identity auth.Identity, extra jwt.Extra) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.tokens == nil {
		return "", ErrTokensDisabled
	}
	if e.config.Token.EmbedProvider && !identity.IsZero() {
		claims := make(map[string]any, len(extra.Claims)+1)
		maps.Copy(claims, extra.Claims)
		claims[guard.ClaimProvider] = identity.ProviderID()
		extra.Claims = claims
	}
	token, err := e.tokens.IssueUserToken(identity, e.config.Token.UserTTL, extra)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindProviderRejected, err)
		}
		return "", err
	}
	e.metricInc(MetricUserTokenIssued)
	e.emitAudit(ctx, AuditTokenIssued, identity, nil, map[string]string{"subject_kind": string(auth.SubjectUser)})
	return token, nil
}

// IssueClientToken signs a machine-to-machine token.
func (e *Engine) IssueClientToken(ctx context.Context, clientID, scope string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.tokens == nil {
		return "", ErrTokensDisabled
	}
	token, err := e.tokens.IssueClientToken(clientID, scope, e.config.Token.ClientTTL)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindProviderRejected, err)
		}
		return "", err
	}
	e.metricInc(MetricClientTokenIssued)
	e.emitAudit(ctx, AuditTokenIssued, auth.Identity{}, nil, map[string]string{
		"subject_kind": string(auth.SubjectClient),
		"client_id":    clientID,
	})
	return token, nil
}

// ValidateToken verifies token. It fails with TokenExpired,
// TokenSignatureInvalid, TokenClaimMismatch or KeyNotFound.
func (e *Engine) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.tokens == nil {
		return nil, ErrTokensDisabled
	}
	start := time.Now()
	claims, err := e.tokens.Validate(ctx, token)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	switch {
	case err == nil:
		e.metricInc(MetricTokenValid)
	case errors.Is(err, auth.ErrTokenExpired):
		e.metricInc(MetricTokenExpired)
	default:
		e.metricInc(MetricTokenInvalid)
	}
	return claims, err
}

// Authenticate runs g against req and records the decision.
func (e *Engine) Authenticate(ctx context.Context, g *guard.Guard, req *guard.Request) (guard.Decision, error) {
	if e == nil || g == nil {
		return guard.Decision{}, ErrEngineNotReady
	}
	if req != nil && req.RemoteAddr != "" && clientIPFromContext(ctx) == "" {
		ctx = WithClientIP(ctx, req.RemoteAddr)
	}
	d, err := g.Authenticate(ctx, req)
	if err != nil {
		e.metricInc(MetricAccessDenied)
		if auth.KindOf(err) == auth.KindProviderUnavailable {
			e.metricInc(MetricProviderUnavailable)
		}
		e.logger.DebugContext(ctx, "access denied",
			slog.String("policy", g.Policy().String()),
			slog.String("kind", auth.KindOf(err).String()),
		)
		e.emitAudit(ctx, AuditAccessDenied, auth.Identity{}, err, map[string]string{"policy": g.Policy().String()})
		return d, err
	}
	e.metricInc(MetricAccessGranted)
	e.emitAudit(ctx, AuditAccessGranted, d.Identity, nil, map[string]string{
		"policy":   g.Policy().String(),
		"strategy": d.Strategy,
	})
	return d, nil
}

// SessionStrategy returns a guard strategy over the Engine's session store
// and configured cookie.
func (e *Engine) SessionStrategy() (*guard.SessionStrategy, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.sessions == nil {
		return nil, ErrSessionsDisabled
	}
	return guard.NewSessionStrategy(e.sessions, e.config.Session.CookieName)
}

// TokenStrategy returns a guard strategy that validates bearer tokens through
// ValidateToken, so validations are counted. Configured required scopes are
// applied before opts.
func (e *Engine) TokenStrategy(opts ...guard.TokenOption) (*guard.TokenStrategy, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.tokens == nil {
		return nil, ErrTokensDisabled
	}
	all := make([]guard.TokenOption, 0, len(opts)+1)
	if len(e.config.Token.RequiredScopes) > 0 {
		all = append(all, guard.RequireScopes(e.config.Token.RequiredScopes...))
	}
	return guard.NewTokenStrategy(engineValidator{e}, append(all, opts...)...)
}

type engineValidator struct{ e *Engine }

func (v engineValidator) Validate(ctx context.Context, token string) (*auth.Claims, error) {
	return v.e.ValidateToken(ctx, token)
}
