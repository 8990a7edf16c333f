// Package oauthtest runs an in-process OAuth2/OIDC authorization server for
// tests: discovery, JWKS, token (authorization_code with PKCE, refresh_token),
// userinfo and revocation endpoints.
package oauthtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	KeyID        = "test-key"
)

type grant struct {
	subject   string
	challenge string
	nonce     string
}

// Server is a fake authorization server. Exported counters record endpoint hits.
type Server struct {
	*httptest.Server

	Key *rsa.PrivateKey

	TokenHits     atomic.Int64
	JWKSHits      atomic.Int64
	DiscoveryHits atomic.Int64
	RevokeHits    atomic.Int64

	mu          sync.Mutex
	codes       map[string]grant
	refresh     map[string]string
	tokenStatus int
	tokenDelay  time.Duration
	jwksDelay   time.Duration
	idToken     func(claims jwt.MapClaims)
	discovery   func(doc map[string]any)
	jwksKeys    []jose.JSONWebKey
}

// New starts a Server and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	s := &Server{
		Key:     key,
		codes:   map[string]grant{},
		refresh: map[string]string{},
	}
	s.jwksKeys = []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: KeyID, Algorithm: "RS256", Use: "sig"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/jwks", s.handleJWKS)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	mux.HandleFunc("/revoke", s.handleRevoke)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Issuer returns the issuer URL (the server base URL).
func (s *Server) Issuer() string { return s.URL }

// AuthURL returns the authorization endpoint.
func (s *Server) AuthURL() string { return s.URL + "/authorize" }

// TokenURL returns the token endpoint.
func (s *Server) TokenURL() string { return s.URL + "/token" }

// UserInfoURL returns the userinfo endpoint.
func (s *Server) UserInfoURL() string { return s.URL + "/userinfo" }

// RevokeURL returns the revocation endpoint.
func (s *Server) RevokeURL() string { return s.URL + "/revoke" }

// IssueCode simulates user consent and returns a single-use code bound to
// subject and the PKCE challenge ("" when PKCE is not used).
func (s *Server) IssueCode(subject, challenge string) string {
	code := "code-" + rand.Text()
	s.mu.Lock()
	s.codes[code] = grant{subject: subject, challenge: challenge}
	s.mu.Unlock()
	return code
}

// FailToken makes the token endpoint answer with status until reset with 0.
func (s *Server) FailToken(status int) {
	s.mu.Lock()
	s.tokenStatus = status
	s.mu.Unlock()
}

// DelayToken slows every token response down by d.
func (s *Server) DelayToken(d time.Duration) {
	s.mu.Lock()
	s.tokenDelay = d
	s.mu.Unlock()
}

// DelayJWKS slows every JWKS response down by d.
func (s *Server) DelayJWKS(d time.Duration) {
	s.mu.Lock()
	s.jwksDelay = d
	s.mu.Unlock()
}

// MutateIDToken lets a test corrupt the claims of issued ID tokens.
func (s *Server) MutateIDToken(fn func(claims jwt.MapClaims)) {
	s.mu.Lock()
	s.idToken = fn
	s.mu.Unlock()
}

// MutateDiscovery lets a test corrupt the discovery document.
func (s *Server) MutateDiscovery(fn func(doc map[string]any)) {
	s.mu.Lock()
	s.discovery = fn
	s.mu.Unlock()
}

// SetJWKS replaces the published key set.
func (s *Server) SetJWKS(keys ...jose.JSONWebKey) {
	s.mu.Lock()
	s.jwksKeys = keys
	s.mu.Unlock()
}

// SignIDToken signs claims with the server key under kid.
func (s *Server) SignIDToken(claims jwt.MapClaims, kid string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	return tok.SignedString(s.Key)
}

// IDTokenClaims returns a valid claim set for subject.
func (s *Server) IDTokenClaims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   s.Issuer(),
		"sub":   subject,
		"aud":   ClientID,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"email": subject + "@example.com",
		"name":  "User " + subject,
	}
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	s.DiscoveryHits.Add(1)
	doc := map[string]any{
		"issuer":                                s.Issuer(),
		"authorization_endpoint":                s.AuthURL(),
		"token_endpoint":                        s.TokenURL(),
		"userinfo_endpoint":                     s.UserInfoURL(),
		"revocation_endpoint":                   s.RevokeURL(),
		"jwks_uri":                              s.URL + "/jwks",
		"scopes_supported":                      []string{"openid", "email", "profile"},
		"response_types_supported":              []string{"code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	s.mu.Lock()
	mutate := s.discovery
	s.mu.Unlock()
	if mutate != nil {
		mutate(doc)
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	s.JWKSHits.Add(1)
	s.mu.Lock()
	set := jose.JSONWebKeySet{Keys: append([]jose.JSONWebKey(nil), s.jwksKeys...)}
	delay := s.jwksDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.TokenHits.Add(1)
	s.mu.Lock()
	status, delay := s.tokenStatus, s.tokenDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "server_error"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if id, secret, ok := r.BasicAuth(); ok {
		if id != ClientID || secret != ClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
	} else if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r)
	case "refresh_token":
		s.mu.Lock()
		subject, ok := s.refresh[r.PostForm.Get("refresh_token")]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		s.writeTokens(w, grant{subject: subject})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	s.mu.Lock()
	g, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	if g.challenge != "" {
		verifier := r.PostForm.Get("code_verifier")
		if verifier == "" || oauth2.S256ChallengeFromVerifier(verifier) != g.challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "pkce verification failed"})
			return
		}
	}
	s.writeTokens(w, g)
}

func (s *Server) writeTokens(w http.ResponseWriter, g grant) {
	claims := s.IDTokenClaims(g.subject)
	s.mu.Lock()
	mutate := s.idToken
	s.mu.Unlock()
	if mutate != nil {
		mutate(claims)
	}
	idToken, err := s.SignIDToken(claims, KeyID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	refresh := "rt-" + rand.Text()
	s.mu.Lock()
	s.refresh[refresh] = g.subject
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "at-" + g.subject,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"scope":         "openid email",
		"id_token":      idToken,
	})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	subject, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer at-")
	if !ok || subject == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":   subject,
		"email": subject + "@example.com",
		"name":  "User " + subject,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.RevokeHits.Add(1)
	if err := r.ParseForm(); err != nil || r.PostForm.Get("token") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	delete(s.refresh, r.PostForm.Get("token"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
