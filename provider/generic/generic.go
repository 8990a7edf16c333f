// Package generic implements provider.OAuthProvider for any RFC 6749
// authorization server. Turning the access token into an Identity is left to a
// caller supplied IdentityFunc; UserInfo covers servers with an OIDC style
// userinfo endpoint.
package generic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/provider"
)

// IdentityFunc resolves the Identity behind tok. client is already authorized
// with tok.
type IdentityFunc func(ctx context.Context, client *http.Client, tok *oauth2.Token) (auth.Identity, error)

// Config configures a Provider.
type Config struct {
	// ID becomes Identity.ProviderID.
	ID string
	provider.OAuth2Options
	Identity IdentityFunc
}

// Provider is a generic OAuth2 provider.
type Provider struct {
	id       string
	client   *provider.OAuth2Client
	identity IdentityFunc
}

var _ provider.OAuthProvider = (*Provider)(nil)

// New validates cfg and returns a Provider.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("provider id is required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("identity func is required")
	}
	client, err := provider.NewOAuth2Client(cfg.OAuth2Options)
	if err != nil {
		return nil, err
	}
	return &Provider{id: cfg.ID, client: client, identity: cfg.Identity}, nil
}

// ID implements provider.OAuthProvider.
func (p *Provider) ID() string { return p.id }

// AuthorizationURL implements provider.OAuthProvider.
func (p *Provider) AuthorizationURL(state string, scopes []string, codeChallenge string) (string, error) {
	if state == "" {
		return "", errors.New("state is required")
	}
	return p.client.AuthCodeURL(state, scopes, codeChallenge), nil
}

// ExchangeCode implements provider.OAuthProvider.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (auth.Identity, auth.TokenSet, error) {
	tok, err := p.client.Exchange(ctx, code, codeVerifier)
	if err != nil {
		return auth.Identity{}, auth.TokenSet{}, err
	}
	identity, err := p.identity(ctx, p.client.HTTPClient(ctx, tok), tok)
	if err != nil {
		return auth.Identity{}, auth.TokenSet{}, provider.Classify(err, auth.KindProviderRejected)
	}
	if identity.IsZero() {
		return auth.Identity{}, auth.TokenSet{}, auth.Errorf(auth.KindProviderRejected, "identity func returned an empty identity")
	}
	return identity, provider.TokenSet(tok), nil
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

// UserInfo returns an IdentityFunc that reads the standard sub, email and name
// claims from a userinfo endpoint. Servers that return a numeric or string
// "id" instead of "sub" are accepted too.
func UserInfo(providerID, endpoint string) IdentityFunc {
	return func(ctx context.Context, client *http.Client, _ *oauth2.Token) (auth.Identity, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return auth.Identity{}, auth.Wrap(auth.KindProviderRejected, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return auth.Identity{}, provider.Classify(err, auth.KindProviderRejected)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return auth.Identity{}, auth.Errorf(auth.KindProviderUnavailable, "userinfo returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return auth.Identity{}, auth.Errorf(auth.KindProviderRejected, "userinfo returned %d", resp.StatusCode)
		}

		var body map[string]any
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
			return auth.Identity{}, auth.Wrap(auth.KindProviderRejected, fmt.Errorf("decode userinfo: %w", err))
		}

		subject := stringClaim(body, "sub")
		if subject == "" {
			subject = stringClaim(body, "id")
		}
		identity, err := auth.NewIdentity(providerID, subject,
			auth.WithEmail(stringClaim(body, "email")),
			auth.WithDisplayName(stringClaim(body, "name")),
		)
		if err != nil {
			return auth.Identity{}, auth.Wrap(auth.KindProviderRejected, err)
		}
		return identity, nil
	}
}

func stringClaim(body map[string]any, name string) string {
	switch v := body[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
