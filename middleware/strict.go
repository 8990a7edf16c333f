package middleware

import (
	"net/http"

	"github.com/marcjazz/authkestra"
	"github.com/marcjazz/authkestra/guard"
)

// RequireStrict returns middleware that needs both the session cookie and a
// bearer token, resolving to the same identity.
func RequireStrict(engine *authkestra.Engine, opts ...guard.TokenOption) (func(http.Handler) http.Handler, error) {
	ss, err := engine.SessionStrategy()
	if err != nil {
		return nil, err
	}
	ts, err := engine.TokenStrategy(opts...)
	if err != nil {
		return nil, err
	}
	g, err := guard.New(guard.AllSuccess, ss, ts)
	if err != nil {
		return nil, err
	}
	return Guard(engine, g), nil
}
