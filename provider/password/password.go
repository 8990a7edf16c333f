// Package password implements provider.CredentialsProvider for username and
// password logins checked against argon2id hashes.
package password

import (
	"context"
	"errors"
	"strings"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/password"
	"github.com/marcjazz/authkestra/provider"
)

// ProviderID is the Identity.ProviderID of password logins unless overridden.
const ProviderID = "password"

// Credentials is a username and password pair.
type Credentials struct {
	Username string
	Password string
}

// Record is a stored account as returned by a Lookup.
type Record struct {
	Subject      string
	PasswordHash string
	Email        string
	DisplayName  string
}

// Lookup finds the account for username. A missing account is (nil, nil).
type Lookup func(ctx context.Context, username string) (*Record, error)

// Provider verifies Credentials.
type Provider struct {
	id     string
	lookup Lookup
	hasher *password.Argon2
}

var _ provider.CredentialsProvider[Credentials] = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithProviderID overrides ProviderID.
func WithProviderID(id string) Option {
	return func(p *Provider) { p.id = id }
}

// New returns a Provider that resolves accounts through lookup and verifies
// hashes with hasher.
func New(lookup Lookup, hasher *password.Argon2, opts ...Option) (*Provider, error) {
	if lookup == nil {
		return nil, errors.New("password lookup is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	p := &Provider{id: ProviderID, lookup: lookup, hasher: hasher}
	for _, opt := range opts {
		opt(p)
	}
	if strings.TrimSpace(p.id) == "" {
		return nil, errors.New("provider id must not be empty")
	}
	return p, nil
}

// Authenticate implements provider.CredentialsProvider. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (p *Provider) Authenticate(ctx context.Context, creds Credentials) (auth.Identity, error) {
	if creds.Username == "" || creds.Password == "" {
		return auth.Identity{}, auth.Errorf(auth.KindInvalidCredentials, "missing username or password")
	}

	rec, err := p.lookup(ctx, creds.Username)
	if err != nil {
		return auth.Identity{}, auth.Wrap(auth.KindProviderUnavailable, err)
	}
	if rec == nil {
		p.hasher.VerifyDummy(creds.Password)
		return auth.Identity{}, auth.ErrInvalidCredentials
	}

	ok, err := p.hasher.Verify(creds.Password, rec.PasswordHash)
	switch {
	case errors.Is(err, password.ErrPasswordLength):
		return auth.Identity{}, auth.ErrInvalidCredentials
	case err != nil:
		return auth.Identity{}, auth.Wrap(auth.KindProviderRejected, err)
	case !ok:
		return auth.Identity{}, auth.ErrInvalidCredentials
	}

	subject := rec.Subject
	if subject == "" {
		subject = creds.Username
	}
	return auth.NewIdentity(p.id, subject,
		auth.WithEmail(rec.Email),
		auth.WithDisplayName(rec.DisplayName),
	)
}
