package jwt

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/marcjazz/authkestra/auth"
)

// SigningMethod selects the algorithm used to sign issued tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodRS256 signs with an RSA private key (PEM).
	MethodRS256 SigningMethod = "rs256"
	// MethodES256 signs with a P-256 ECDSA private key (PEM).
	MethodES256 SigningMethod = "es256"
	// MethodEd25519 signs with an Ed25519 private key (raw or PEM).
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	// ClaimScope carries the space delimited scope set.
	ClaimScope = "scope"
	// ClaimSubjectKind discriminates user and client subjects.
	ClaimSubjectKind = "subject_kind"

	minHMACKeyBytes = 32
	defaultTTL      = time.Hour
)

var reservedClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {}, "jti": {},
	ClaimScope: {}, ClaimSubjectKind: {},
}

// Config configures a Manager.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret or the PEM (raw for Ed25519) private key.
	// Leave it empty for a validate-only manager.
	PrivateKey []byte
	// PublicKey verifies tokens when PrivateKey is absent (asymmetric methods).
	PublicKey []byte
	// KeyID is stamped into the kid header of issued tokens.
	KeyID string
	// VerifyKeys holds additional verification keys by kid, for rotation.
	VerifyKeys map[string][]byte
	// Keys replaces static verification keys, for example with a *jwks.Cache.
	Keys KeyResolver

	Issuer       string
	Audience     string
	DefaultTTL   time.Duration
	Leeway       time.Duration
	RequireIAT   bool
	MaxFutureIAT time.Duration
	Now          func() time.Time
}

// Extra carries the optional claims of a user token.
type Extra struct {
	Scope  string
	Claims map[string]any
}

// Manager issues and validates bearer tokens.
//
// Manager is safe for concurrent use.
type Manager struct {
	config   Config
	method   jwt.SigningMethod
	signKey  any
	verifier *Verifier
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.DefaultTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	method, err := methodFor(cfg.SigningMethod)
	if err != nil {
		return nil, err
	}
	m.method = method

	var verifyKey any
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", minHMACKeyBytes)
		}
		m.signKey = cfg.PrivateKey
		verifyKey = cfg.PrivateKey
	default:
		if len(cfg.PrivateKey) > 0 {
			signer, err := parsePrivateKey(cfg.SigningMethod, cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = signer
			verifyKey = signer.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parsePublicKey(cfg.SigningMethod, cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			verifyKey = pub
		}
	}

	byKID := make(map[string]any, len(cfg.VerifyKeys)+1)
	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		key, err := verificationKey(cfg.SigningMethod, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
		}
		byKID[kid] = key
	}
	if cfg.KeyID != "" && verifyKey != nil {
		byKID[cfg.KeyID] = verifyKey
	}

	keys := cfg.Keys
	if keys == nil {
		if verifyKey == nil && len(byKID) == 0 {
			return nil, fmt.Errorf("%s requires a private key, public key or verify key set", cfg.SigningMethod)
		}
		keys = NewStaticKeys(verifyKey, byKID)
	}

	verifier, err := NewVerifier(keys, VerifyOptions{
		Algorithms:   []string{method.Alg()},
		Issuer:       cfg.Issuer,
		Audience:     cfg.Audience,
		Leeway:       cfg.Leeway,
		RequireIAT:   cfg.RequireIAT,
		MaxFutureIAT: cfg.MaxFutureIAT,
		Now:          cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	m.verifier = verifier
	return m, nil
}

// Verifier returns the verification primitive used by Validate.
func (m *Manager) Verifier() *Verifier { return m.verifier }

// IssueUserToken signs a token for identity.
//
// Only ExternalID is copied into the token (as sub). Email, display name and
// attributes never leave the Identity. A non-positive ttl uses Config.DefaultTTL.
func (m *Manager) IssueUserToken(identity auth.Identity, ttl time.Duration, extra Extra) (string, error) {
	if identity.IsZero() {
		return "", auth.Errorf(auth.KindInvalidCredentials, "identity is required")
	}
	claims, err := m.baseClaims(identity.ExternalID(), auth.SubjectUser, ttl)
	if err != nil {
		return "", err
	}
	if extra.Scope != "" {
		claims[ClaimScope] = extra.Scope
	}
	for name, value := range extra.Claims {
		if _, reserved := reservedClaims[name]; reserved {
			return "", auth.Errorf(auth.KindProviderRejected, "claim %q is reserved", name)
		}
		claims[name] = value
	}
	return m.sign(claims)
}

// IssueClientToken signs a machine-to-machine token for clientID.
func (m *Manager) IssueClientToken(clientID, scope string, ttl time.Duration) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", auth.Errorf(auth.KindInvalidCredentials, "client id is required")
	}
	claims, err := m.baseClaims(clientID, auth.SubjectClient, ttl)
	if err != nil {
		return "", err
	}
	if scope != "" {
		claims[ClaimScope] = scope
	}
	return m.sign(claims)
}

// Validate verifies token and returns its Claims.
//
// Validate fails with TokenExpired, TokenSignatureInvalid, TokenClaimMismatch
// or KeyNotFound. It mutates nothing but the read-through key cache of a
// JWKS-backed resolver.
func (m *Manager) Validate(ctx context.Context, token string) (*auth.Claims, error) {
	mc := jwt.MapClaims{}
	if _, err := m.verifier.Verify(ctx, token, mc); err != nil {
		return nil, err
	}
	return claimsFromMap(mc)
}

func (m *Manager) baseClaims(subject string, kind auth.SubjectKind, ttl time.Duration) (jwt.MapClaims, error) {
	if m.signKey == nil {
		return nil, auth.Errorf(auth.KindProviderRejected, "manager has no signing key")
	}
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}
	now := m.config.Now()
	claims := jwt.MapClaims{
		"sub":            subject,
		ClaimSubjectKind: string(kind),
		"iat":            jwt.NewNumericDate(now),
		"exp":            jwt.NewNumericDate(now.Add(ttl)),
		"jti":            uuid.NewString(),
	}
	if m.config.Issuer != "" {
		claims["iss"] = m.config.Issuer
	}
	if m.config.Audience != "" {
		claims["aud"] = jwt.ClaimStrings{m.config.Audience}
	}
	return claims, nil
}

func (m *Manager) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", auth.Wrap(auth.KindProviderRejected, err)
	}
	return signed, nil
}

func claimsFromMap(mc jwt.MapClaims) (*auth.Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, auth.Errorf(auth.KindTokenClaimMismatch, "token has no subject")
	}
	kind, _ := mc[ClaimSubjectKind].(string)
	if !auth.SubjectKind(kind).Valid() {
		return nil, auth.Errorf(auth.KindTokenClaimMismatch, "token has invalid subject kind %q", kind)
	}

	out := &auth.Claims{Subject: sub, SubjectKind: auth.SubjectKind(kind)}
	out.Issuer, _ = mc.GetIssuer()
	if aud, err := mc.GetAudience(); err == nil {
		out.Audience = []string(aud)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	out.ID, _ = mc["jti"].(string)
	out.Scope, _ = mc[ClaimScope].(string)

	for name, value := range mc {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		if out.Custom == nil {
			out.Custom = make(map[string]any)
		}
		out.Custom[name] = value
	}
	return out, nil
}

func methodFor(m SigningMethod) (jwt.SigningMethod, error) {
	switch m {
	case MethodHS256:
		return jwt.SigningMethodHS256, nil
	case MethodRS256:
		return jwt.SigningMethodRS256, nil
	case MethodES256:
		return jwt.SigningMethodES256, nil
	case MethodEd25519:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, errors.New("unsupported signing method")
	}
}

func parsePrivateKey(m SigningMethod, key []byte) (crypto.Signer, error) {
	switch m {
	case MethodRS256:
		k, err := jwt.ParseRSAPrivateKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid rsa private key")
		}
		return k, nil
	case MethodES256:
		k, err := jwt.ParseECPrivateKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid ecdsa private key")
		}
		return k, nil
	default:
		return parseEdPrivateKey(key)
	}
}

func parsePublicKey(m SigningMethod, key []byte) (crypto.PublicKey, error) {
	switch m {
	case MethodRS256:
		k, err := jwt.ParseRSAPublicKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid rsa public key")
		}
		return k, nil
	case MethodES256:
		k, err := jwt.ParseECPublicKeyFromPEM(key)
		if err != nil {
			return nil, errors.New("invalid ecdsa public key")
		}
		return k, nil
	default:
		return parseEdPublicKey(key)
	}
}

func verificationKey(m SigningMethod, raw []byte) (any, error) {
	if m == MethodHS256 {
		if len(raw) < minHMACKeyBytes {
			return nil, errors.New("hmac verify key too short")
		}
		return raw, nil
	}
	return parsePublicKey(m, raw)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

