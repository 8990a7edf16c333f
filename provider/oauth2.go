package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/marcjazz/authkestra/auth"
)

// DefaultTimeout bounds a single provider round trip when the caller sets none.
const DefaultTimeout = 10 * time.Second

// OAuth2Options configures an OAuth2Client.
type OAuth2Options struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	RevocationURL string
	RedirectURL   string
	Scopes        []string
	AuthStyle     oauth2.AuthStyle
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// OAuth2Client performs the RFC 6749 round trips shared by OAuth providers:
// authorization URL construction, code exchange, refresh and RFC 7009
// revocation. Errors are classified onto the auth taxonomy.
//
// OAuth2Client is immutable and safe for concurrent use.
type OAuth2Client struct {
	config        oauth2.Config
	revocationURL string
	httpClient    *http.Client
	timeout       time.Duration
}

// NewOAuth2Client validates opts and returns a client.
func NewOAuth2Client(opts OAuth2Options) (*OAuth2Client, error) {
	if strings.TrimSpace(opts.ClientID) == "" {
		return nil, errors.New("oauth2 client id is required")
	}
	if opts.AuthURL == "" || opts.TokenURL == "" {
		return nil, errors.New("oauth2 authorization and token endpoints are required")
	}
	for _, raw := range []string{opts.AuthURL, opts.TokenURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, fmt.Errorf("invalid oauth2 endpoint %q: %w", raw, err)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &OAuth2Client{
		config: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: opts.AuthStyle,
			},
			RedirectURL: opts.RedirectURL,
			Scopes:      append([]string(nil), opts.Scopes...),
		},
		revocationURL: opts.RevocationURL,
		httpClient:    opts.HTTPClient,
		timeout:       opts.Timeout,
	}, nil
}

// ClientID returns the configured client id.
func (c *OAuth2Client) ClientID() string { return c.config.ClientID }

// AuthCodeURL builds the authorization URL. Empty scopes fall back to the
// configured defaults; a non-empty challenge adds S256 PKCE parameters.
func (c *OAuth2Client) AuthCodeURL(state string, scopes []string, challenge string, extra ...oauth2.AuthCodeOption) string {
	cfg := c.config
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	opts := append([]oauth2.AuthCodeOption(nil), extra...)
	if challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return cfg.AuthCodeURL(state, opts...)
}

// Exchange trades code (and the PKCE verifier when non-empty) for a token.
func (c *OAuth2Client) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, auth.Errorf(auth.KindInvalidAuthorizationCode, "empty authorization code")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := c.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, Classify(err, auth.KindInvalidAuthorizationCode)
	}
	return tok, nil
}

// Refresh redeems a refresh token.
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, auth.Errorf(auth.KindInvalidCredentials, "empty refresh token")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	tok, err := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, Classify(err, auth.KindInvalidCredentials)
	}
	return tok, nil
}

// Revoke posts token to the RFC 7009 revocation endpoint. Providers without
// one reject the call with ProviderRejected.
func (c *OAuth2Client) Revoke(ctx context.Context, token string) error {
	if c.revocationURL == "" {
		return auth.Errorf(auth.KindProviderRejected, "token revocation not supported")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return auth.Wrap(auth.KindProviderRejected, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(c.config.ClientSecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classify(err, auth.KindProviderRejected)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return statusError(resp.StatusCode)
}

// HTTPClient returns an *http.Client that authorizes requests with tok and
// uses the configured transport.
func (c *OAuth2Client) HTTPClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return c.config.Client(ctx, tok)
}

func (c *OAuth2Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.timeout)
}

// TokenSet converts an oauth2 token.
func TokenSet(tok *oauth2.Token) auth.TokenSet {
	if tok == nil {
		return auth.TokenSet{}
	}
	set := auth.TokenSet{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = id
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		set.Scope = scope
	}
	return set
}

// Classify maps an error from an OAuth round trip onto the auth taxonomy.
// invalidGrant is the kind reported for an RFC 6749 invalid_grant response.
func Classify(err error, invalidGrant auth.Kind) error {
	if err == nil {
		return nil
	}
	if auth.KindOf(err) != auth.KindUnknown {
		return err
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case status >= http.StatusInternalServerError:
			return auth.Errorf(auth.KindProviderUnavailable, "token endpoint returned %d", status)
		case re.ErrorCode == "invalid_grant":
			return auth.Errorf(invalidGrant, "provider returned invalid_grant")
		case re.ErrorCode != "":
			return auth.Errorf(auth.KindProviderRejected, "provider returned %s", re.ErrorCode)
		default:
			return auth.Errorf(auth.KindProviderRejected, "token endpoint returned %d", status)
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return auth.Wrap(auth.KindProviderUnavailable, err)
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return auth.Wrap(auth.KindProviderUnavailable, err)
	default:
		return auth.Wrap(auth.KindProviderRejected, err)
	}
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= http.StatusInternalServerError:
		return auth.Errorf(auth.KindProviderUnavailable, "provider returned %d", code)
	default:
		return auth.Errorf(auth.KindProviderRejected, "provider returned %d", code)
	}
}
