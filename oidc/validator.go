package oidc

import (
	"context"
	"errors"
	"slices"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/jwt"
)

const (
	// DefaultMaxAge bounds how old an ID token's iat may be.
	DefaultMaxAge = 10 * time.Minute
	// DefaultClockSkew is the tolerance for iat values in the future.
	DefaultClockSkew = 60 * time.Second
)

// IDTokenClaims are the verified claims of an ID token.
type IDTokenClaims struct {
	gojwt.RegisteredClaims
	AuthorizedParty string `json:"azp,omitempty"`
	Nonce           string `json:"nonce,omitempty"`
	Email           string `json:"email,omitempty"`
	EmailVerified   bool   `json:"email_verified,omitempty"`
	Name            string `json:"name,omitempty"`
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	ClientID string
	// Algorithms defaults to RS256 and is intersected with the algorithms the
	// issuer advertises.
	Algorithms []string
	MaxAge     time.Duration
	ClockSkew  time.Duration
	Now        func() time.Time
}

// Validator checks ID tokens issued by one issuer for one client.
type Validator struct {
	clientID  string
	maxAge    time.Duration
	clockSkew time.Duration
	now       func() time.Time
	verifier  *jwt.Verifier
}

// NewValidator returns a Validator for tokens described by meta whose keys are
// resolved through keys (normally a *jwks.Cache).
func NewValidator(meta *Metadata, keys jwt.KeyResolver, cfg ValidatorConfig) (*Validator, error) {
	if meta == nil || meta.Issuer == "" {
		return nil, errors.New("oidc metadata with an issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oidc client id is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	algs := allowedAlgorithms(cfg.Algorithms, meta.IDTokenSigningAlgValues)
	if len(algs) == 0 {
		return nil, errors.New("no signing algorithm is both allowed and advertised by the issuer")
	}

	verifier, err := jwt.NewVerifier(keys, jwt.VerifyOptions{
		Algorithms: algs,
		Issuer:     meta.Issuer,
		Audience:   cfg.ClientID,
		Now:        cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Validator{
		clientID:  cfg.ClientID,
		maxAge:    cfg.MaxAge,
		clockSkew: cfg.ClockSkew,
		now:       cfg.Now,
		verifier:  verifier,
	}, nil
}

func allowedAlgorithms(allowed, advertised []string) []string {
	if len(allowed) == 0 {
		allowed = []string{"RS256"}
	}
	if len(advertised) == 0 {
		return slices.Clone(allowed)
	}
	var out []string
	for _, alg := range allowed {
		if slices.Contains(advertised, alg) {
			out = append(out, alg)
		}
	}
	return out
}

// Algorithms returns the effective allow-list.
func (v *Validator) Algorithms() []string { return v.verifier.Algorithms() }

// Validate verifies raw and returns its claims.
//
// The signature is checked with the key for the token's kid (one JWKS refetch
// on a miss), then iss, aud (and azp for multi-audience tokens), exp and iat.
func (v *Validator) Validate(ctx context.Context, raw string) (*IDTokenClaims, error) {
	var claims IDTokenClaims
	if _, err := v.verifier.Verify(ctx, raw, &claims); err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, auth.Errorf(auth.KindTokenClaimMismatch, "id token has no subject")
	}
	if len(claims.Audience) > 1 || claims.AuthorizedParty != "" {
		if claims.AuthorizedParty != v.clientID {
			return nil, auth.Errorf(auth.KindTokenClaimMismatch, "id token azp does not name this client")
		}
	}

	if claims.IssuedAt == nil {
		return nil, auth.Errorf(auth.KindTokenClaimMismatch, "id token has no iat")
	}
	now := v.now()
	iat := claims.IssuedAt.Time
	if iat.After(now.Add(v.clockSkew)) {
		return nil, auth.Errorf(auth.KindTokenClaimMismatch, "id token iat is in the future")
	}
	if iat.Before(now.Add(-v.maxAge)) {
		return nil, auth.Errorf(auth.KindTokenClaimMismatch, "id token iat is older than %s", v.maxAge)
	}
	return &claims, nil
}
