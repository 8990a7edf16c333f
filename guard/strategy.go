package guard

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/provider"
	"github.com/marcjazz/authkestra/provider/password"
	"github.com/marcjazz/authkestra/session"
)

// Strategy authenticates one kind of request credential.
type Strategy interface {
	Name() string
	// Attempt returns the authenticated Identity, an error classified by
	// auth.KindOf, or (nil, nil) when the request carries no credential this
	// strategy understands.
	Attempt(ctx context.Context, req *Request) (*auth.Identity, error)
}

// StrategyFunc is a named function Strategy.
type StrategyFunc struct {
	name string
	fn   func(ctx context.Context, req *Request) (*auth.Identity, error)
}

// Func returns a Strategy that calls fn.
func Func(name string, fn func(ctx context.Context, req *Request) (*auth.Identity, error)) *StrategyFunc {
	return &StrategyFunc{name: name, fn: fn}
}

// Name returns the name given to Func.
func (s *StrategyFunc) Name() string { return s.name }

// Attempt calls the wrapped function.
func (s *StrategyFunc) Attempt(ctx context.Context, req *Request) (*auth.Identity, error) {
	return s.fn(ctx, req)
}

/* ==== Session ==== */

// DefaultSessionCookie is the cookie SessionStrategy reads when none is set.
const DefaultSessionCookie = "authkestra_session"

// SessionStrategy resolves a session cookie against a session.Store.
type SessionStrategy struct {
	store  session.Store
	cookie string
}

// NewSessionStrategy reads cookieName, or DefaultSessionCookie when empty.
func NewSessionStrategy(store session.Store, cookieName string) (*SessionStrategy, error) {
	if store == nil {
		return nil, errors.New("session store is nil")
	}
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &SessionStrategy{store: store, cookie: cookieName}, nil
}

func (s *SessionStrategy) Name() string { return "session" }

// Attempt loads the session named by the cookie. A malformed id is
// TokenSignatureInvalid; a well-formed but unknown one is InvalidCredentials.
func (s *SessionStrategy) Attempt(ctx context.Context, req *Request) (*auth.Identity, error) {
	id, ok := req.Cookie(s.cookie)
	if !ok {
		return nil, nil
	}
	// A cookie that cannot be a session id was never issued here.
	if !session.ValidID(id) {
		return nil, auth.Errorf(auth.KindTokenSignatureInvalid, "malformed session id")
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindProviderUnavailable, err)
		}
		return nil, err
	}
	if sess == nil {
		return nil, auth.Errorf(auth.KindInvalidCredentials, "unknown session")
	}
	identity := sess.Identity
	return &identity, nil
}

/* ==== Bearer token ==== */

// TokenValidator verifies a bearer token. *jwt.Manager implements it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
}

// ClaimsMapper turns verified claims into an Identity.
type ClaimsMapper func(ctx context.Context, claims *auth.Claims) (auth.Identity, error)

// ClaimProvider is the custom claim that names the provider of a user token.
const ClaimProvider = "idp"

// TokenProvider is the provider id given to tokens that name neither a
// provider nor an issuer.
const TokenProvider = "token"

// TokenOption configures a TokenStrategy.
type TokenOption func(*TokenStrategy)

// RequireScopes rejects tokens missing any of scopes with TokenClaimMismatch.
func RequireScopes(scopes ...string) TokenOption {
	return func(s *TokenStrategy) { s.scopes = append(s.scopes, scopes...) }
}

// WithClaimsMapper replaces DefaultClaimsMapper.
func WithClaimsMapper(m ClaimsMapper) TokenOption {
	return func(s *TokenStrategy) { s.mapper = m }
}

// TokenStrategy authenticates an "Authorization: Bearer" token.
type TokenStrategy struct {
	validator TokenValidator
	scopes    []string
	mapper    ClaimsMapper
}

// NewTokenStrategy verifies bearer tokens with v. It fails when v or a
// configured mapper is nil.
func NewTokenStrategy(v TokenValidator, opts ...TokenOption) (*TokenStrategy, error) {
	if v == nil {
		return nil, errors.New("token validator is nil")
	}
	s := &TokenStrategy{validator: v, mapper: DefaultClaimsMapper}
	for _, opt := range opts {
		opt(s)
	}
	if s.mapper == nil {
		return nil, errors.New("claims mapper is nil")
	}
	return s, nil
}

func (s *TokenStrategy) Name() string { return "token" }

func (s *TokenStrategy) Attempt(ctx context.Context, req *Request) (*auth.Identity, error) {
	token, ok := req.BearerToken()
	if !ok {
		return nil, nil
	}
	claims, err := s.validator.Validate(ctx, token)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindTokenSignatureInvalid, err)
		}
		return nil, err
	}
	for _, scope := range s.scopes {
		if !claims.HasScope(scope) {
			return nil, auth.Errorf(auth.KindTokenClaimMismatch, "missing scope %q", scope)
		}
	}
	identity, err := s.mapper(ctx, claims)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindTokenClaimMismatch, err)
		}
		return nil, err
	}
	if identity.IsZero() {
		return nil, auth.Errorf(auth.KindTokenClaimMismatch, "token maps to no identity")
	}
	return &identity, nil
}

// DefaultClaimsMapper keys the Identity on the subject. The provider id is
// the idp claim, else the issuer, else TokenProvider.
func DefaultClaimsMapper(_ context.Context, claims *auth.Claims) (auth.Identity, error) {
	providerID, _ := claims.Custom[ClaimProvider].(string)
	if providerID == "" {
		providerID = claims.Issuer
	}
	if providerID == "" {
		providerID = TokenProvider
	}
	return auth.NewIdentity(providerID, claims.Subject)
}

/* ==== Credentials ==== */

// CredentialsStrategy extracts credentials of type C from the request and
// checks them with a CredentialsProvider.
type CredentialsStrategy[C any] struct {
	name     string
	extract  func(*Request) (C, bool)
	provider provider.CredentialsProvider[C]
	// malformed reports a credential that is present but unparsable.
	malformed func(*Request) error
}

// NewCredentialsStrategy returns a strategy that applies whenever extract
// reports true.
func NewCredentialsStrategy[C any](name string, extract func(*Request) (C, bool), p provider.CredentialsProvider[C]) (*CredentialsStrategy[C], error) {
	switch {
	case name == "":
		return nil, errors.New("strategy name is empty")
	case extract == nil:
		return nil, errors.New("credentials extractor is nil")
	case p == nil:
		return nil, errors.New("credentials provider is nil")
	}
	return &CredentialsStrategy[C]{name: name, extract: extract, provider: p}, nil
}

func (s *CredentialsStrategy[C]) Name() string { return s.name }

func (s *CredentialsStrategy[C]) Attempt(ctx context.Context, req *Request) (*auth.Identity, error) {
	if s.malformed != nil {
		if err := s.malformed(req); err != nil {
			return nil, err
		}
	}
	creds, ok := s.extract(req)
	if !ok {
		return nil, nil
	}
	identity, err := s.provider.Authenticate(ctx, creds)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindInvalidCredentials, err)
		}
		return nil, err
	}
	if identity.IsZero() {
		return nil, auth.ErrInvalidCredentials
	}
	return &identity, nil
}

// NewBasicStrategy reads "Authorization: Basic" credentials. A Basic header
// that does not decode to user:password is TokenSignatureInvalid.
func NewBasicStrategy(p provider.CredentialsProvider[password.Credentials]) (*CredentialsStrategy[password.Credentials], error) {
	s, err := NewCredentialsStrategy("basic", func(r *Request) (password.Credentials, bool) {
		user, pass, ok := r.BasicCredentials()
		return password.Credentials{Username: user, Password: pass}, ok
	}, p)
	if err != nil {
		return nil, err
	}
	s.malformed = malformedBasic
	return s, nil
}

func malformedBasic(r *Request) error {
	if r == nil {
		return nil
	}
	scheme, _, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !strings.EqualFold(scheme, "Basic") {
		return nil
	}
	if _, _, ok := r.BasicCredentials(); ok {
		return nil
	}
	return auth.Errorf(auth.KindTokenSignatureInvalid, "malformed basic credentials")
}

/* ==== API key header ==== */

// KeyResolver maps an API key to its owner. It returns (nil, nil) for an
// unknown key.
type KeyResolver func(ctx context.Context, key string) (*auth.Identity, error)

// HeaderStrategy authenticates an API key carried in a custom header.
type HeaderStrategy struct {
	header  string
	resolve KeyResolver
}

// NewHeaderStrategy reads an API key from header and resolves it with resolve.
func NewHeaderStrategy(header string, resolve KeyResolver) (*HeaderStrategy, error) {
	if strings.TrimSpace(header) == "" {
		return nil, errors.New("header name is empty")
	}
	if resolve == nil {
		return nil, errors.New("key resolver is nil")
	}
	return &HeaderStrategy{header: http.CanonicalHeaderKey(header), resolve: resolve}, nil
}

func (s *HeaderStrategy) Name() string { return "header:" + s.header }

func (s *HeaderStrategy) Attempt(ctx context.Context, req *Request) (*auth.Identity, error) {
	if req == nil {
		return nil, nil
	}
	key := strings.TrimSpace(req.Header.Get(s.header))
	if key == "" {
		return nil, nil
	}
	identity, err := s.resolve(ctx, key)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindProviderUnavailable, err)
		}
		return nil, err
	}
	if identity == nil || identity.IsZero() {
		return nil, auth.Errorf(auth.KindInvalidCredentials, "unknown api key")
	}
	return identity, nil
}
