package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marcjazz/authkestra"
	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/guard"
)

type decisionContextKey struct{}

// DecisionFromContext returns the decision stored by a guard middleware.
func DecisionFromContext(ctx context.Context) (guard.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(guard.Decision)
	return d, ok
}

// IdentityFromContext returns the identity of the granted decision.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	d, ok := DecisionFromContext(ctx)
	if !ok || !d.Granted() {
		return auth.Identity{}, false
	}
	return d.Identity, true
}

// Guard returns middleware that authenticates every request with g.
func Guard(engine *authkestra.Engine, g *guard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || g == nil {
				WriteError(w, authkestra.ErrEngineNotReady)
				return
			}

			decision, err := engine.Authenticate(r.Context(), g, guard.FromHTTP(r))
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StatusFor maps an authentication error to an HTTP status.
func StatusFor(err error) int {
	switch auth.KindOf(err) {
	case auth.KindProviderUnavailable, auth.KindDiscoveryFailed:
		return http.StatusServiceUnavailable
	case auth.KindProviderRejected:
		return http.StatusBadGateway
	case auth.KindStateMismatch, auth.KindInvalidAuthorizationCode:
		return http.StatusBadRequest
	case auth.KindUnknown:
		if errors.Is(err, authkestra.ErrEngineNotReady) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// WriteError answers with StatusFor(err) and {"error": kind}.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authkestra"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": auth.KindOf(err).String()})
}
