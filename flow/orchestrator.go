package flow

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/internal"
	"github.com/marcjazz/authkestra/provider"
)

// DefaultRequestTTL is how long an AuthorizationRequest stays acceptable.
const DefaultRequestTTL = 10 * time.Minute

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScopes sets the scopes requested at Initiate. Empty means the
// provider's defaults.
func WithScopes(scopes ...string) Option {
	return func(o *Orchestrator) { o.scopes = slices.Clone(scopes) }
}

// WithPKCE toggles PKCE. It is on by default.
func WithPKCE(enabled bool) Option {
	return func(o *Orchestrator) { o.pkce = enabled }
}

// WithRequestTTL overrides DefaultRequestTTL.
func WithRequestTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTracer sets the tracer used for Finalize spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// Result is the outcome of a successful Finalize.
type Result struct {
	Identity auth.Identity
	Tokens   auth.TokenSet
}

// Orchestrator runs authorization code logins against one provider. It holds
// no per-login state and is safe for concurrent use.
type Orchestrator struct {
	provider provider.OAuthProvider
	scopes   []string
	pkce     bool
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New returns an Orchestrator for p.
func New(p provider.OAuthProvider, opts ...Option) (*Orchestrator, error) {
	if p == nil {
		return nil, errors.New("flow provider is required")
	}
	o := &Orchestrator{
		provider: p,
		pkce:     true,
		ttl:      DefaultRequestTTL,
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.ttl <= 0 {
		return nil, errors.New("flow request ttl must be > 0")
	}
	if o.now == nil || o.logger == nil || o.tracer == nil {
		return nil, errors.New("flow clock, logger and tracer must not be nil")
	}
	return o, nil
}

// Provider returns the provider this orchestrator drives.
func (o *Orchestrator) Provider() provider.OAuthProvider { return o.provider }

// Initiate starts a login. It returns the URL to redirect the user agent to
// and the request the caller must keep until the callback.
func (o *Orchestrator) Initiate(ctx context.Context) (string, *AuthorizationRequest, error) {
	state, err := internal.NewState()
	if err != nil {
		return "", nil, err
	}
	now := o.now()
	req := &AuthorizationRequest{
		ProviderID: o.provider.ID(),
		State:      state,
		Scopes:     slices.Clone(o.scopes),
		CreatedAt:  now,
		ExpiresAt:  now.Add(o.ttl),
		Status:     StatusInitiated,
	}
	if o.pkce {
		pkce := NewPKCE()
		req.CodeVerifier = pkce.Verifier
		req.CodeChallenge = pkce.Challenge
		req.ChallengeMethod = pkce.Method
	}

	authURL, err := o.provider.AuthorizationURL(req.State, req.Scopes, req.CodeChallenge)
	if err != nil {
		return "", nil, auth.Wrap(auth.KindProviderRejected, err)
	}
	req.Status = StatusAwaitingCallback

	o.logger.DebugContext(ctx, "login initiated",
		slog.String("provider", req.ProviderID),
		slog.Bool("pkce", req.UsesPKCE()),
	)
	return authURL, req, nil
}

// Finalize completes the login started by req.
//
// The returned state is compared with req.State in constant time before
// anything else; on mismatch the provider is never called. Expired, reused
// or foreign requests fail with StateMismatch too. On success req moves to
// Finalized; on any failure an AwaitingCallback request moves to Failed.
func (o *Orchestrator) Finalize(ctx context.Context, code, returnedState string, req *AuthorizationRequest) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "flow.Finalize", trace.WithAttributes(
		attribute.String("auth.provider", o.provider.ID()),
	))
	defer span.End()

	res, err := o.finalize(ctx, code, returnedState, req)
	if err != nil {
		kind := auth.KindOf(err)
		span.SetStatus(codes.Error, kind.String())
		o.logger.InfoContext(ctx, "login failed",
			slog.String("provider", o.provider.ID()),
			slog.String("kind", kind.String()),
		)
		return nil, err
	}
	o.logger.InfoContext(ctx, "login finalized",
		slog.String("provider", res.Identity.ProviderID()),
		slog.String("subject", res.Identity.ExternalID()),
	)
	return res, nil
}

func (o *Orchestrator) finalize(ctx context.Context, code, returnedState string, req *AuthorizationRequest) (*Result, error) {
	if req == nil || req.State == "" {
		return nil, auth.Errorf(auth.KindStateMismatch, "no stored authorization request")
	}
	if !internal.EqualSecret(returnedState, req.State) {
		req.fail(auth.KindStateMismatch)
		return nil, auth.Errorf(auth.KindStateMismatch, "returned state does not match")
	}
	if req.Status != StatusAwaitingCallback {
		return nil, auth.Errorf(auth.KindStateMismatch, "authorization request is %s", req.Status)
	}
	if req.Expired(o.now()) {
		req.fail(auth.KindStateMismatch)
		return nil, auth.Errorf(auth.KindStateMismatch, "authorization request expired")
	}
	if req.ProviderID != o.provider.ID() {
		req.fail(auth.KindStateMismatch)
		return nil, auth.Errorf(auth.KindStateMismatch, "authorization request belongs to another provider")
	}
	if req.CodeChallenge != "" && !VerifyPKCE(req.CodeVerifier, req.CodeChallenge) {
		req.fail(auth.KindInvalidAuthorizationCode)
		return nil, auth.Errorf(auth.KindInvalidAuthorizationCode, "stored code verifier does not match its challenge")
	}

	identity, tokens, err := o.provider.ExchangeCode(ctx, code, req.CodeVerifier)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindProviderRejected, err)
		}
		req.fail(auth.KindOf(err))
		return nil, err
	}
	if identity.IsZero() {
		req.fail(auth.KindProviderRejected)
		return nil, auth.Errorf(auth.KindProviderRejected, "provider returned no identity")
	}

	req.Status = StatusFinalized
	return &Result{Identity: identity, Tokens: tokens}, nil
}

// FinalizeAndMap finalizes the login and maps the Identity to an application
// user. Mapping errors without a kind resolve to InvalidCredentials.
func FinalizeAndMap[U any](ctx context.Context, o *Orchestrator, mapper provider.UserMapper[U], code, returnedState string, req *AuthorizationRequest) (U, *Result, error) {
	var zero U
	if mapper == nil {
		return zero, nil, auth.Errorf(auth.KindProviderRejected, "user mapper is required")
	}
	res, err := o.Finalize(ctx, code, returnedState, req)
	if err != nil {
		return zero, nil, err
	}
	user, err := mapper.MapUser(ctx, res.Identity)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindInvalidCredentials, err)
		}
		return zero, res, err
	}
	return user, res, nil
}
