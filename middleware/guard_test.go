package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcjazz/authkestra"
	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/guard"
	"github.com/marcjazz/authkestra/jwt"
	"github.com/marcjazz/authkestra/session/memory"
)

func newEngine(t *testing.T) *authkestra.Engine {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)
	e, err := authkestra.New().
		WithSessionStore(store).
		WithTokenManager(tokens).
		WithLogger(slog.New(slog.DiscardHandler)).
		Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(id.ExternalID()))
}

func mustIdentity(t *testing.T, subject string) auth.Identity {
	t.Helper()
	id, err := auth.NewIdentity("password", subject)
	require.NoError(t, err)
	return id
}

func TestRequireTokenGrantsBearer(t *testing.T) {
	e := newEngine(t)
	mw, err := RequireToken(e)
	require.NoError(t, err)
	h := mw(http.HandlerFunc(echoIdentity))

	token, err := e.IssueUserToken(context.Background(), mustIdentity(t, "u-1"), jwt.Extra{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}

func TestRequireTokenDenies(t *testing.T) {
	e := newEngine(t)
	mw, err := RequireToken(e)
	require.NoError(t, err)
	h := mw(http.HandlerFunc(echoIdentity))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.JSONEq(t, `{"error":"InvalidCredentials"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"TokenSignatureInvalid"}`, rec.Body.String())
}

func TestRequireStrictNeedsBoth(t *testing.T) {
	e := newEngine(t)
	mw, err := RequireStrict(e)
	require.NoError(t, err)
	h := mw(http.HandlerFunc(echoIdentity))

	ctx := context.Background()
	alice := mustIdentity(t, "alice")
	s, err := e.CreateSession(ctx, alice)
	require.NoError(t, err)
	aliceToken, err := e.IssueUserToken(ctx, alice, jwt.Extra{})
	require.NoError(t, err)
	bobToken, err := e.IssueUserToken(ctx, mustIdentity(t, "bob"), jwt.Extra{})
	require.NoError(t, err)

	serve := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: guard.DefaultSessionCookie, Value: s.ID})
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, serve(aliceToken).Code)
	assert.Equal(t, http.StatusUnauthorized, serve("").Code)

	conflict := serve(bobToken)
	assert.Equal(t, http.StatusUnauthorized, conflict.Code)
	assert.JSONEq(t, `{"error":"TokenClaimMismatch"}`, conflict.Body.String())
}

func TestGuardStoresDecision(t *testing.T) {
	e := newEngine(t)
	g, err := guard.New(guard.FirstSuccess, guard.Func("fixed", func(context.Context, *guard.Request) (*auth.Identity, error) {
		id := mustIdentity(t, "fixed")
		return &id, nil
	}))
	require.NoError(t, err)

	var got guard.Decision
	h := Guard(e, g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = DecisionFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "fixed", got.Strategy)
	assert.True(t, got.Granted())
}

func TestGuardWithoutEngine(t *testing.T) {
	rec := httptest.NewRecorder()
	Guard(nil, nil)(http.HandlerFunc(echoIdentity)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireTokenWithoutManager(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	e, err := authkestra.New().WithSessionStore(store).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)

	_, err = RequireToken(e)
	assert.ErrorIs(t, err, authkestra.ErrTokensDisabled)
	_, err = RequireStrict(e)
	assert.ErrorIs(t, err, authkestra.ErrTokensDisabled)
}

func TestStatusFor(t *testing.T) {
	cases := map[auth.Kind]int{
		auth.KindInvalidCredentials:  http.StatusUnauthorized,
		auth.KindTokenExpired:        http.StatusUnauthorized,
		auth.KindProviderUnavailable: http.StatusServiceUnavailable,
		auth.KindProviderRejected:    http.StatusBadGateway,
		auth.KindStateMismatch:       http.StatusBadRequest,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(auth.Errorf(kind, "x")), kind.String())
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
