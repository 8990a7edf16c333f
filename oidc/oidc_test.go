package oidc_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/internal/oauthtest"
	"github.com/marcjazz/authkestra/jwt"
	"github.com/marcjazz/authkestra/oidc"
)

func newProvider(t *testing.T, srv *oauthtest.Server) *oidc.Provider {
	t.Helper()
	p, err := oidc.NewProvider(context.Background(), oidc.Config{
		Issuer:       srv.Issuer(),
		ClientID:     oauthtest.ClientID,
		ClientSecret: oauthtest.ClientSecret,
		RedirectURL:  "https://app.example.com/callback",
	}, nil)
	require.NoError(t, err)
	return p
}

func TestDiscover(t *testing.T) {
	srv := oauthtest.New(t)

	meta, err := oidc.Discover(context.Background(), srv.Issuer())
	require.NoError(t, err)
	assert.Equal(t, srv.Issuer(), meta.Issuer)
	assert.Equal(t, srv.TokenURL(), meta.TokenEndpoint)
	assert.Equal(t, srv.URL+"/jwks", meta.JWKSURI)
	assert.Equal(t, []string{"RS256"}, meta.IDTokenSigningAlgValues)
	assert.True(t, meta.SupportsPKCE())
}

func TestDiscoverFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		srv := oauthtest.New(t)
		issuer := srv.Issuer()
		srv.Close()
		_, err := oidc.Discover(context.Background(), issuer, oidc.WithDiscoveryTimeout(time.Second))
		assert.ErrorIs(t, err, auth.ErrDiscoveryFailed)
	})

	for _, field := range []string{"authorization_endpoint", "token_endpoint", "jwks_uri"} {
		t.Run("missing "+field, func(t *testing.T) {
			srv := oauthtest.New(t)
			srv.MutateDiscovery(func(doc map[string]any) { delete(doc, field) })
			_, err := oidc.Discover(context.Background(), srv.Issuer())
			assert.ErrorIs(t, err, auth.ErrDiscoveryFailed)
		})
	}

	t.Run("issuer mismatch", func(t *testing.T) {
		srv := oauthtest.New(t)
		srv.MutateDiscovery(func(doc map[string]any) { doc["issuer"] = "https://evil.example.com" })
		_, err := oidc.Discover(context.Background(), srv.Issuer())
		assert.ErrorIs(t, err, auth.ErrDiscoveryFailed)
	})

	t.Run("empty issuer", func(t *testing.T) {
		_, err := oidc.Discover(context.Background(), " ")
		assert.ErrorIs(t, err, auth.ErrDiscoveryFailed)
	})

	t.Run("provider construction", func(t *testing.T) {
		srv := oauthtest.New(t)
		srv.MutateDiscovery(func(doc map[string]any) { delete(doc, "jwks_uri") })
		_, err := oidc.NewProvider(context.Background(), oidc.Config{Issuer: srv.Issuer(), ClientID: "c"}, nil)
		assert.ErrorIs(t, err, auth.ErrDiscoveryFailed)
	})
}

func TestExchangeCodeBuildsIdentityFromIDToken(t *testing.T) {
	srv := oauthtest.New(t)
	p := newProvider(t, srv)

	verifier := oauth2.GenerateVerifier()
	code := srv.IssueCode("sub-42", oauth2.S256ChallengeFromVerifier(verifier))

	identity, tokens, err := p.ExchangeCode(context.Background(), code, verifier)
	require.NoError(t, err)
	assert.Equal(t, srv.Issuer(), identity.ProviderID())
	assert.Equal(t, "sub-42", identity.ExternalID())
	assert.Equal(t, "sub-42@example.com", identity.Email())
	assert.NotEmpty(t, tokens.IDToken)
	assert.EqualValues(t, 1, srv.JWKSHits.Load())

	_, _, err = p.ExchangeCode(context.Background(), srv.IssueCode("sub-43", ""), "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.JWKSHits.Load(), "keys are cached between exchanges")
}

func TestExchangeCodeBoundsKeyFetchByTimeout(t *testing.T) {
	srv := oauthtest.New(t)
	srv.DelayJWKS(5 * time.Second)
	p, err := oidc.NewProvider(context.Background(), oidc.Config{
		Issuer:       srv.Issuer(),
		ClientID:     oauthtest.ClientID,
		ClientSecret: oauthtest.ClientSecret,
		RedirectURL:  "https://app.example.com/callback",
		Timeout:      200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	_, _, err = p.ExchangeCode(context.Background(), srv.IssueCode("sub-1", ""), "")
	require.ErrorIs(t, err, auth.ErrProviderUnavailable)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestAuthorizationURLAlwaysRequestsOpenID(t *testing.T) {
	srv := oauthtest.New(t)
	p := newProvider(t, srv)

	raw, err := p.AuthorizationURL("st", []string{"email"}, "")
	require.NoError(t, err)
	assert.Contains(t, raw, "scope=openid+email")
}

func TestExchangeCodeRejectsCorruptedIDTokens(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(gojwt.MapClaims)
		want   error
	}{
		{"expired", func(c gojwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }, auth.ErrTokenExpired},
		{"wrong audience", func(c gojwt.MapClaims) { c["aud"] = "someone-else" }, auth.ErrTokenClaimMismatch},
		{"wrong issuer", func(c gojwt.MapClaims) { c["iss"] = "https://evil.example.com" }, auth.ErrTokenClaimMismatch},
		{"iat in future", func(c gojwt.MapClaims) { c["iat"] = time.Now().Add(5 * time.Minute).Unix() }, auth.ErrTokenClaimMismatch},
		{"iat too old", func(c gojwt.MapClaims) { c["iat"] = time.Now().Add(-time.Hour).Unix() }, auth.ErrTokenClaimMismatch},
		{"multi audience without azp", func(c gojwt.MapClaims) { c["aud"] = []string{oauthtest.ClientID, "other"} }, auth.ErrTokenClaimMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := oauthtest.New(t)
			srv.MutateIDToken(tc.mutate)
			p := newProvider(t, srv)

			identity, _, err := p.ExchangeCode(context.Background(), srv.IssueCode("victim", ""), "")
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, identity.IsZero())
		})
	}
}

func TestValidatorRejectsForgedSignature(t *testing.T) {
	srv := oauthtest.New(t)
	p := newProvider(t, srv)

	forger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tok := gojwt.NewWithClaims(gojwt.SigningMethodRS256, srv.IDTokenClaims("victim"))
	tok.Header["kid"] = oauthtest.KeyID
	forged, err := tok.SignedString(forger)
	require.NoError(t, err)

	_, err = p.Validator().Validate(context.Background(), forged)
	assert.ErrorIs(t, err, auth.ErrTokenSignatureInvalid)
}

func TestValidatorUnknownKidTriggersOneRefetch(t *testing.T) {
	srv := oauthtest.New(t)
	p := newProvider(t, srv)

	raw, err := srv.SignIDToken(srv.IDTokenClaims("x"), "rotated-away")
	require.NoError(t, err)

	_, err = p.Validator().Validate(context.Background(), raw)
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
	assert.EqualValues(t, 1, srv.JWKSHits.Load())
}

func TestValidatorRejectsDisallowedAlgorithm(t *testing.T) {
	srv := oauthtest.New(t)
	p := newProvider(t, srv)

	tok := gojwt.NewWithClaims(gojwt.SigningMethodHS256, srv.IDTokenClaims("x"))
	tok.Header["kid"] = oauthtest.KeyID
	raw, err := tok.SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, err = p.Validator().Validate(context.Background(), raw)
	assert.ErrorIs(t, err, auth.ErrTokenSignatureInvalid)
}

func TestValidatorAcceptsMatchingAZP(t *testing.T) {
	srv := oauthtest.New(t)
	now := time.Now()
	meta := &oidc.Metadata{Issuer: srv.Issuer(), IDTokenSigningAlgValues: []string{"RS256", "ES256"}}
	v, err := oidc.NewValidator(meta, jwt.NewStaticKeys(&srv.Key.PublicKey, nil), oidc.ValidatorConfig{
		ClientID: oauthtest.ClientID,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"RS256"}, v.Algorithms())

	claims := srv.IDTokenClaims("multi")
	claims["aud"] = []string{oauthtest.ClientID, "api"}
	claims["azp"] = oauthtest.ClientID
	raw, err := srv.SignIDToken(claims, "")
	require.NoError(t, err)

	got, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "multi", got.Subject)
	assert.Equal(t, "multi@example.com", got.Email)
}

func TestNewValidatorRequiresCommonAlgorithm(t *testing.T) {
	meta := &oidc.Metadata{Issuer: "https://issuer", IDTokenSigningAlgValues: []string{"ES256"}}
	_, err := oidc.NewValidator(meta, jwt.NewStaticKeys(nil, nil), oidc.ValidatorConfig{ClientID: "c"})
	assert.Error(t, err)
}

func TestRefreshThroughDiscoveredEndpoint(t *testing.T) {
	srv := oauthtest.New(t)
	p := newProvider(t, srv)

	_, tokens, err := p.ExchangeCode(context.Background(), srv.IssueCode("r", ""), "")
	require.NoError(t, err)

	next, err := p.Refresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)
	require.NoError(t, p.Revoke(context.Background(), next.RefreshToken))
}

func TestExchangeUnavailableTokenEndpoint(t *testing.T) {
	srv := oauthtest.New(t)
	p := newProvider(t, srv)
	srv.FailToken(http.StatusServiceUnavailable)

	_, _, err := p.ExchangeCode(context.Background(), srv.IssueCode("z", ""), "")
	assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
}
