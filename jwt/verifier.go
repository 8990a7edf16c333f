package jwt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/marcjazz/authkestra/auth"
)

// KeyResolver resolves the verification key for a token kid and alg.
//
// *jwks.Cache satisfies KeyResolver. Implementations report unknown kids with
// auth.ErrKeyNotFound.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid, alg string) (any, error)
}

// StaticKeys resolves keys from a fixed map. The empty kid resolves to the
// default key when one is set.
type StaticKeys struct {
	defaultKey any
	byKID      map[string]any
}

// NewStaticKeys returns a resolver over defaultKey and byKID.
func NewStaticKeys(defaultKey any, byKID map[string]any) *StaticKeys {
	keys := make(map[string]any, len(byKID))
	for kid, key := range byKID {
		keys[kid] = key
	}
	return &StaticKeys{defaultKey: defaultKey, byKID: keys}
}

// ResolveKey implements KeyResolver.
func (s *StaticKeys) ResolveKey(_ context.Context, kid, _ string) (any, error) {
	if key, ok := s.byKID[kid]; ok {
		return key, nil
	}
	if kid == "" && s.defaultKey != nil {
		return s.defaultKey, nil
	}
	if len(s.byKID) == 0 && s.defaultKey != nil {
		return s.defaultKey, nil
	}
	return nil, auth.Errorf(auth.KindKeyNotFound, "kid %q", kid)
}

// VerifyOptions configures a Verifier.
type VerifyOptions struct {
	// Algorithms is the allow-list of JWS algorithms. "none" is never accepted.
	Algorithms []string
	// Issuer, when set, must equal the iss claim.
	Issuer string
	// Audience, when set, must be one of the aud values.
	Audience string
	// Leeway is applied to exp, nbf and iat.
	Leeway time.Duration
	// RequireIAT rejects tokens without iat.
	RequireIAT bool
	// MaxFutureIAT rejects tokens whose iat is further in the future than this.
	MaxFutureIAT time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Verifier checks signature and registered claims of compact tokens.
//
// A Verifier is immutable and safe for concurrent use.
type Verifier struct {
	keys   KeyResolver
	opts   VerifyOptions
	parser *jwt.Parser
}

// NewVerifier validates opts and returns a Verifier.
func NewVerifier(keys KeyResolver, opts VerifyOptions) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}
	if len(opts.Algorithms) == 0 {
		return nil, errors.New("at least one signing algorithm must be allowed")
	}
	for _, alg := range opts.Algorithms {
		if strings.EqualFold(alg, "none") || alg == "" {
			return nil, fmt.Errorf("algorithm %q cannot be allowed", alg)
		}
		if jwt.GetSigningMethod(alg) == nil {
			return nil, fmt.Errorf("unsupported algorithm %q", alg)
		}
	}
	if opts.Leeway < 0 || opts.Leeway > 5*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if opts.MaxFutureIAT < 0 {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Algorithms = slices.Clone(opts.Algorithms)

	options := []jwt.ParserOption{
		jwt.WithValidMethods(opts.Algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(opts.Now),
	}
	if opts.Leeway > 0 {
		options = append(options, jwt.WithLeeway(opts.Leeway))
	}
	if opts.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if opts.Issuer != "" {
		options = append(options, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		options = append(options, jwt.WithAudience(opts.Audience))
	}

	return &Verifier{keys: keys, opts: opts, parser: jwt.NewParser(options...)}, nil
}

// Algorithms returns a copy of the allow-list.
func (v *Verifier) Algorithms() []string {
	return slices.Clone(v.opts.Algorithms)
}

// Verify parses raw into claims and checks the signature, the algorithm
// allow-list, exp (required), and the configured iss/aud/iat constraints.
//
// Errors resolve through auth.KindOf to TokenSignatureInvalid, TokenExpired,
// TokenClaimMismatch, KeyNotFound or ProviderUnavailable (key fetch failure).
func (v *Verifier) Verify(ctx context.Context, raw string, claims jwt.Claims) (*jwt.Token, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, auth.Errorf(auth.KindTokenSignatureInvalid, "empty token")
	}

	token, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		if !slices.Contains(v.opts.Algorithms, alg) {
			return nil, auth.Errorf(auth.KindTokenSignatureInvalid, "unexpected signing algorithm: %s", alg)
		}
		kid, _ := t.Header["kid"].(string)
		return v.keys.ResolveKey(ctx, kid, alg)
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, auth.Errorf(auth.KindTokenSignatureInvalid, "token invalid")
	}

	if v.opts.MaxFutureIAT > 0 {
		iat, err := claims.GetIssuedAt()
		if err == nil && iat != nil && iat.Time.After(v.opts.Now().Add(v.opts.MaxFutureIAT)) {
			return nil, auth.Errorf(auth.KindTokenClaimMismatch, "token iat too far in the future")
		}
	}
	return token, nil
}

func classify(err error) error {
	if kind := auth.KindOf(err); kind != auth.KindUnknown {
		return err
	}
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return auth.Wrap(auth.KindTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenInvalidSubject),
		errors.Is(err, jwt.ErrTokenInvalidId):
		return auth.Wrap(auth.KindTokenClaimMismatch, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.Wrap(auth.KindTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return auth.Wrap(auth.KindTokenClaimMismatch, err)
	default:
		return auth.Wrap(auth.KindTokenSignatureInvalid, err)
	}
}
