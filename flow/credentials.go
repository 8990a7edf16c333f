package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/provider"
)

// Credentials authenticates directly presented credentials, such as a
// username and password, through a CredentialsProvider.
type Credentials[C any] struct {
	provider provider.CredentialsProvider[C]
	logger   *slog.Logger
}

// NewCredentials returns a credentials flow over p. A nil logger means
// slog.Default().
func NewCredentials[C any](p provider.CredentialsProvider[C], logger *slog.Logger) (*Credentials[C], error) {
	if p == nil {
		return nil, errors.New("credentials provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Credentials[C]{provider: p, logger: logger}, nil
}

// Authenticate checks creds. Provider errors without a kind resolve to
// InvalidCredentials.
func (c *Credentials[C]) Authenticate(ctx context.Context, creds C) (auth.Identity, error) {
	identity, err := c.provider.Authenticate(ctx, creds)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindInvalidCredentials, err)
		}
		c.logger.DebugContext(ctx, "credentials rejected", slog.String("kind", auth.KindOf(err).String()))
		return auth.Identity{}, err
	}
	if identity.IsZero() {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	return identity, nil
}

// AuthenticateAndMap authenticates creds and maps the Identity to an
// application user.
func AuthenticateAndMap[C, U any](ctx context.Context, c *Credentials[C], mapper provider.UserMapper[U], creds C) (U, error) {
	var zero U
	identity, err := c.Authenticate(ctx, creds)
	if err != nil {
		return zero, err
	}
	user, err := mapper.MapUser(ctx, identity)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindInvalidCredentials, err)
		}
		return zero, err
	}
	return user, nil
}
