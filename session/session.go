package session

import (
	"context"
	"errors"
	"time"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/internal"
)

// Session binds an opaque id to an authenticated Identity for a bounded time.
type Session struct {
	ID        string
	Identity  auth.Identity
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewSession creates a session for identity with a fresh 128-bit id.
func NewSession(identity auth.Identity, ttl time.Duration, now time.Time) (*Session, error) {
	if identity.IsZero() {
		return nil, errors.New("session identity is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}
	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id.String(),
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Expired reports whether the session has lapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TTL returns the time left at now, or zero once expired.
func (s *Session) TTL(now time.Time) time.Duration {
	if s.Expired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// Store persists sessions.
type Store interface {
	// Load returns the session for id, or (nil, nil) when it does not exist
	// or has expired.
	Load(ctx context.Context, id string) (*Session, error)
	// Save inserts or replaces s.
	Save(ctx context.Context, s *Session) error
	// Delete removes the session. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}

// ValidID reports whether id has the shape of a session id produced by
// NewSession. Stores use it to skip lookups for garbage input.
func ValidID(id string) bool {
	_, err := internal.ParseSessionID(id)
	return err == nil
}

// CheckSave performs the checks every Store runs before writing s.
func CheckSave(ctx context.Context, s *Session, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return auth.Wrap(auth.KindProviderUnavailable, err)
	}
	if s == nil || s.ID == "" || s.Identity.IsZero() {
		return auth.Errorf(auth.KindProviderRejected, "incomplete session")
	}
	if s.Expired(now) {
		return auth.Errorf(auth.KindProviderRejected, "session already expired")
	}
	return nil
}
