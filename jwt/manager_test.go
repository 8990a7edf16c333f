package jwt

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/jwks"
)

var hmacSecret = []byte("0123456789abcdef0123456789abcdef")

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func mustIdentity(t *testing.T) auth.Identity {
	t.Helper()
	id, err := auth.NewIdentity("github", "12345",
		auth.WithEmail("octo@example.com"),
		auth.WithDisplayName("Octo Cat"),
		auth.WithAttribute("avatar_url", "https://example.com/a.png"))
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	return id
}

func requireKind(t *testing.T, err error, want auth.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := auth.KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func TestUserTokenRoundTripAndExpiry(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret, Issuer: "authkestra", Now: clock.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	id := mustIdentity(t)
	token, err := m.IssueUserToken(id, time.Hour, Extra{Scope: "read write", Claims: map[string]any{"tenant": "acme"}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != id.ExternalID() {
		t.Fatalf("sub = %q, want %q", claims.Subject, id.ExternalID())
	}
	if claims.SubjectKind != auth.SubjectUser {
		t.Fatalf("subject kind = %q", claims.SubjectKind)
	}
	if !claims.HasScope("write") || claims.Custom["tenant"] != "acme" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" || claims.Issuer != "authkestra" {
		t.Fatalf("missing registered claims: %+v", claims)
	}

	clock.now = clock.now.Add(3601 * time.Second)
	_, err = m.Validate(context.Background(), token)
	requireKind(t, err, auth.KindTokenExpired)
}

func TestUserTokenDoesNotLeakIdentityFields(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.IssueUserToken(mustIdentity(t), 0, Extra{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	mc := gjwt.MapClaims{}
	if _, _, err := gjwt.NewParser().ParseUnverified(token, mc); err != nil {
		t.Fatalf("parse unverified: %v", err)
	}
	for _, leaked := range []string{"octo@example.com", "Octo Cat", "avatar_url", "github"} {
		for k, v := range mc {
			if s, ok := v.(string); (ok && s == leaked) || k == leaked {
				t.Fatalf("token body leaks %q: %v", leaked, mc)
			}
		}
	}
}

func TestClientTokenHasClientSubjectKind(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret, Audience: "api"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.IssueClientToken("billing-worker", "invoices:read", 5*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.SubjectKind != auth.SubjectClient || claims.Subject != "billing-worker" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.HasAudience("api") || claims.Scope != "invoices:read" || len(claims.Custom) != 0 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.IssueClientToken(" ", "", 0); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected empty client id to be InvalidCredentials, got %v", err)
	}
	if _, err := m.IssueUserToken(auth.Identity{}, 0, Extra{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected empty identity to be InvalidCredentials, got %v", err)
	}
}

func TestReservedClaimsCannotBeOverridden(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for _, name := range []string{"sub", "exp", ClaimSubjectKind, ClaimScope} {
		if _, err := m.IssueUserToken(mustIdentity(t), 0, Extra{Claims: map[string]any{name: "x"}}); !errors.Is(err, auth.ErrProviderRejected) {
			t.Fatalf("expected reserved claim %q to be ProviderRejected, got %v", name, err)
		}
	}
}

func TestValidateRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.MapClaims{
		"sub": "u", ClaimSubjectKind: "user", "exp": time.Now().Add(time.Minute).Unix(),
	})
	token, err := tok.SignedString(hmacSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	_, err = m.Validate(context.Background(), token)
	requireKind(t, err, auth.KindTokenSignatureInvalid)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodNone, gjwt.MapClaims{
		"sub": "u", ClaimSubjectKind: "user", "exp": time.Now().Add(time.Minute).Unix(),
	})
	token, err := tok.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	_, err = m.Validate(context.Background(), token)
	requireKind(t, err, auth.KindTokenSignatureInvalid)

	if _, err := NewVerifier(NewStaticKeys(hmacSecret, nil), VerifyOptions{Algorithms: []string{"none"}}); err == nil {
		t.Fatal("expected none algorithm to be refused by NewVerifier")
	}
}

func TestValidateTamperedSignature(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.IssueClientToken("svc", "", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	_, otherPriv := newEdKeys(t)
	other, _ := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: otherPriv})
	forged, _ := other.IssueClientToken("svc", "", 0)
	tampered := parts[0] + "." + parts[1] + "." + strings.Split(forged, ".")[2]

	_, err = m.Validate(context.Background(), tampered)
	requireKind(t, err, auth.KindTokenSignatureInvalid)

	_, err = m.Validate(context.Background(), "not.a.jwt")
	requireKind(t, err, auth.KindTokenSignatureInvalid)
}

func TestValidateIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "authkestra",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	sign := func(iss, aud string) string {
		tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, gjwt.MapClaims{
			"sub": "u", ClaimSubjectKind: "user", "iss": iss, "aud": aud,
			"iat": time.Now().Unix(), "exp": time.Now().Add(time.Minute).Unix(),
		})
		s, err := tok.SignedString(priv)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	if _, err := m.Validate(context.Background(), sign("authkestra", "api")); err != nil {
		t.Fatalf("expected valid token: %v", err)
	}
	_, err = m.Validate(context.Background(), sign("other", "api"))
	requireKind(t, err, auth.KindTokenClaimMismatch)
	_, err = m.Validate(context.Background(), sign("authkestra", "other-api"))
	requireKind(t, err, auth.KindTokenClaimMismatch)

	expired := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, gjwt.MapClaims{
		"sub": "u", ClaimSubjectKind: "user", "iss": "authkestra", "aud": "api",
		"exp": time.Now().Add(-10 * time.Second).Unix(),
	})
	withinLeeway, _ := expired.SignedString(priv)
	if _, err := m.Validate(context.Background(), withinLeeway); err != nil {
		t.Fatalf("expected token inside leeway to validate: %v", err)
	}
}

func TestValidateRejectsMissingSubjectKind(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: hmacSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.MapClaims{
		"sub": "u", "exp": time.Now().Add(time.Minute).Unix(),
	})
	token, _ := tok.SignedString(hmacSecret)
	_, err = m.Validate(context.Background(), token)
	requireKind(t, err, auth.KindTokenClaimMismatch)
}

func TestKeyRotationWithVerifyKeys(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	_, newPriv := newEdKeys(t)

	oldIssuer, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: oldPriv, KeyID: "old"})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	current, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "new",
		VerifyKeys:    map[string][]byte{"old": oldPub},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	legacy, _ := oldIssuer.IssueClientToken("svc", "", 0)
	if _, err := current.Validate(context.Background(), legacy); err != nil {
		t.Fatalf("expected rotated key to validate: %v", err)
	}
	fresh, _ := current.IssueClientToken("svc", "", 0)
	if _, err := current.Validate(context.Background(), fresh); err != nil {
		t.Fatalf("expected current key to validate: %v", err)
	}

	unknown, _ := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: oldPriv, KeyID: "gone"})
	orphan, _ := unknown.IssueClientToken("svc", "", 0)
	_, err = current.Validate(context.Background(), orphan)
	requireKind(t, err, auth.KindKeyNotFound)
}

func TestValidateWithJWKSResolver(t *testing.T) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: "rsa-1", Algorithm: "RS256", Use: "sig"}}}
	cache := jwks.New(jwks.FetcherFunc(func(context.Context) (*jose.JSONWebKeySet, error) { return set, nil }))

	m, err := NewManager(Config{SigningMethod: MethodRS256, Keys: cache})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodRS256, gjwt.MapClaims{
		"sub": "svc", ClaimSubjectKind: "client", "exp": time.Now().Add(time.Minute).Unix(),
	})
	tok.Header["kid"] = "rsa-1"
	token, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.SubjectKind != auth.SubjectClient {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.IssueClientToken("svc", "", 0); err == nil {
		t.Fatal("expected validate-only manager to refuse issuing")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{SigningMethod: "rs512", PrivateKey: hmacSecret},
		{SigningMethod: MethodEd25519},
		{SigningMethod: MethodRS256, PrivateKey: []byte("not pem")},
		{SigningMethod: MethodHS256, PrivateKey: hmacSecret, Leeway: time.Hour},
		{SigningMethod: MethodHS256, PrivateKey: hmacSecret, DefaultTTL: -time.Second},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestStaticKeysUnknownKid(t *testing.T) {
	keys := NewStaticKeys(nil, map[string]any{"a": hmacSecret})
	_, err := keys.ResolveKey(context.Background(), "b", "HS256")
	if !errors.Is(err, auth.ErrKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
}
