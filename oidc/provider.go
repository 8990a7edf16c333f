package oidc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/jwks"
	"github.com/marcjazz/authkestra/provider"
)

// Config configures an OIDC Provider.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to openid, email and profile. openid is always added.
	Scopes     []string
	HTTPClient *http.Client
	Timeout    time.Duration
	// Algorithms, MaxAge and Now are passed to the ID token Validator.
	Algorithms []string
	MaxAge     time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Provider is an OAuthProvider for an OpenID Connect issuer.
type Provider struct {
	meta      *Metadata
	client    *provider.OAuth2Client
	validator *Validator
	keys      *jwks.Cache
	logger    *slog.Logger
}

var _ provider.OAuthProvider = (*Provider)(nil)

// NewProvider discovers cfg.Issuer and returns a Provider. keys may be nil, in
// which case a jwks.Cache over the discovered jwks_uri is created; pass a
// shared cache to reuse keys across providers of the same issuer.
func NewProvider(ctx context.Context, cfg Config, keys *jwks.Cache) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("oidc client id is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	meta, err := Discover(ctx, cfg.Issuer, WithHTTPClient(cfg.HTTPClient), WithDiscoveryTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}

	if keys == nil {
		fetcher := jwks.NewHTTPFetcher(meta.JWKSURI, cfg.HTTPClient)
		if cfg.Timeout > 0 {
			fetcher.Timeout = cfg.Timeout
		}
		keys = jwks.New(fetcher, jwks.WithLogger(cfg.Logger))
	}
	validator, err := NewValidator(meta, keys, ValidatorConfig{
		ClientID:   cfg.ClientID,
		Algorithms: cfg.Algorithms,
		MaxAge:     cfg.MaxAge,
		Now:        cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	client, err := provider.NewOAuth2Client(provider.OAuth2Options{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		AuthURL:       meta.AuthorizationEndpoint,
		TokenURL:      meta.TokenEndpoint,
		RevocationURL: meta.RevocationEndpoint,
		RedirectURL:   cfg.RedirectURL,
		Scopes:        withOpenID(scopes),
		HTTPClient:    cfg.HTTPClient,
		Timeout:       cfg.Timeout,
	})
	if err != nil {
		return nil, auth.Wrap(auth.KindDiscoveryFailed, err)
	}

	return &Provider{
		meta:      meta,
		client:    client,
		validator: validator,
		keys:      keys,
		logger:    cfg.Logger,
	}, nil
}

func withOpenID(scopes []string) []string {
	if slices.Contains(scopes, "openid") {
		return slices.Clone(scopes)
	}
	return append([]string{"openid"}, scopes...)
}

// ID implements provider.OAuthProvider. It is the issuer URL.
func (p *Provider) ID() string { return p.meta.Issuer }

// Metadata returns a copy of the discovered metadata.
func (p *Provider) Metadata() *Metadata { return p.meta.clone() }

// Validator returns the ID token validator.
func (p *Provider) Validator() *Validator { return p.validator }

// Keys returns the JWKS cache backing the validator.
func (p *Provider) Keys() *jwks.Cache { return p.keys }

// AuthorizationURL implements provider.OAuthProvider.
func (p *Provider) AuthorizationURL(state string, scopes []string, codeChallenge string) (string, error) {
	if state == "" {
		return "", errors.New("state is required")
	}
	if len(scopes) > 0 {
		scopes = withOpenID(scopes)
	}
	return p.client.AuthCodeURL(state, scopes, codeChallenge), nil
}

// ExchangeCode implements provider.OAuthProvider. The token response must carry
// an id_token; the Identity is built from its validated claims.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (auth.Identity, auth.TokenSet, error) {
	tok, err := p.client.Exchange(ctx, code, codeVerifier)
	if err != nil {
		return auth.Identity{}, auth.TokenSet{}, err
	}
	tokens := provider.TokenSet(tok)
	if tokens.IDToken == "" {
		return auth.Identity{}, auth.TokenSet{}, auth.Errorf(auth.KindProviderRejected, "token response carried no id_token")
	}

	claims, err := p.validator.Validate(ctx, tokens.IDToken)
	if err != nil {
		p.logger.WarnContext(ctx, "id token rejected",
			slog.String("issuer", p.meta.Issuer),
			slog.String("kind", auth.KindOf(err).String()),
		)
		return auth.Identity{}, auth.TokenSet{}, err
	}

	opts := []auth.IdentityOption{
		auth.WithEmail(claims.Email),
		auth.WithDisplayName(claims.Name),
	}
	if claims.EmailVerified {
		opts = append(opts, auth.WithAttribute("email_verified", "true"))
	}
	identity, err := auth.NewIdentity(p.meta.Issuer, claims.Subject, opts...)
	if err != nil {
		return auth.Identity{}, auth.TokenSet{}, auth.Wrap(auth.KindTokenClaimMismatch, err)
	}
	return identity, tokens, nil
}

// Refresh implements provider.OAuthProvider.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (auth.TokenSet, error) {
	tok, err := p.client.Refresh(ctx, refreshToken)
	if err != nil {
		return auth.TokenSet{}, err
	}
	return provider.TokenSet(tok), nil
}

// Revoke implements provider.OAuthProvider.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	return p.client.Revoke(ctx, token)
}
