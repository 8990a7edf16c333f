// Package memory is an in-process session.Store backed by ttlcache. Sessions
// do not survive a restart and are not shared between processes.
package memory

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/marcjazz/authkestra/session"
)

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of sessions kept; the least recently used
// session is evicted first. Zero means unbounded.
func WithCapacity(n uint64) Option {
	return func(s *Store) { s.capacity = n }
}

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps sessions in memory until they expire.
type Store struct {
	cache    *ttlcache.Cache[string, session.Session]
	capacity uint64
	now      func() time.Time
}

var _ session.Store = (*Store)(nil)

// New returns a Store and starts its expiry loop. Call Close to stop it.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	cacheOpts := []ttlcache.Option[string, session.Session]{
		ttlcache.WithDisableTouchOnHit[string, session.Session](),
	}
	if s.capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, session.Session](s.capacity))
	}
	s.cache = ttlcache.New(cacheOpts...)
	go s.cache.Start()
	return s
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, id string) (*session.Session, error) {
	if !session.ValidID(id) {
		return nil, nil
	}
	item := s.cache.Get(id)
	if item == nil {
		return nil, nil
	}
	sess := item.Value()
	if sess.Expired(s.now()) {
		s.cache.Delete(id)
		return nil, nil
	}
	return &sess, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	now := s.now()
	if err := session.CheckSave(ctx, sess, now); err != nil {
		return err
	}
	s.cache.Set(sess.ID, *sess, sess.TTL(now))
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet
// swept.
func (s *Store) Len() int { return s.cache.Len() }

// Close stops the expiry loop.
func (s *Store) Close() error {
	s.cache.Stop()
	return nil
}
