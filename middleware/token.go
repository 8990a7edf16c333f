package middleware

import (
	"net/http"

	"github.com/marcjazz/authkestra"
	"github.com/marcjazz/authkestra/guard"
)

// RequireToken returns middleware that accepts bearer tokens only. It fails
// when the Engine has no token manager.
func RequireToken(engine *authkestra.Engine, opts ...guard.TokenOption) (func(http.Handler) http.Handler, error) {
	ts, err := engine.TokenStrategy(opts...)
	if err != nil {
		return nil, err
	}
	g, err := guard.New(guard.FirstSuccess, ts)
	if err != nil {
		return nil, err
	}
	return Guard(engine, g), nil
}
