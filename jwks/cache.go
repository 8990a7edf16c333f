package jwks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/marcjazz/authkestra/auth"
)

const (
	tracerName = "github.com/marcjazz/authkestra/jwks"

	// DefaultTTL bounds how long a fetched key set is served without a refetch.
	DefaultTTL = time.Hour
	// DefaultMinRefreshInterval is how long a kid that was still unknown after
	// its refetch is answered from memory instead of fetching again.
	DefaultMinRefreshInterval = 10 * time.Second

	maxMissing = 1024
)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMinRefreshInterval overrides DefaultMinRefreshInterval. Zero disables
// the negative cache, so every miss refetches.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.minRefresh = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache is a read-through, kid keyed verification key cache.
//
// Cache is safe for concurrent use.
type Cache struct {
	fetcher    Fetcher
	ttl        time.Duration
	minRefresh time.Duration
	now        func() time.Time
	logger     *slog.Logger

	group   singleflight.Group
	fetches atomic.Uint64

	mu          sync.RWMutex
	keys       map[string]jose.JSONWebKey
	generation uint64
	fetchedAt  time.Time
	// missing holds kids still absent after their refetch, by the time of
	// that refetch.
	missing map[string]time.Time
}

// New returns an empty Cache backed by fetcher. Nothing is fetched until the
// first lookup or an explicit Refresh.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:    fetcher,
		ttl:        DefaultTTL,
		minRefresh: DefaultMinRefreshInterval,
		now:        time.Now,
		logger:     slog.Default(),
		keys:       map[string]jose.JSONWebKey{},
		missing:    map[string]time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ResolveKey returns the public verification key for kid.
//
// A miss triggers exactly one fetch, shared with concurrent callers asking for
// the same kid. A kid still missing afterwards is KeyNotFound, and further
// lookups for it within the min refresh interval do not fetch again. A key
// whose advertised alg differs from alg is TokenSignatureInvalid.
func (c *Cache) ResolveKey(ctx context.Context, kid, alg string) (any, error) {
	key, gen, found, stale := c.lookup(kid)
	if found && !stale {
		return checkAlg(key, alg)
	}

	err := c.refresh(ctx, kid, gen)
	if err != nil {
		if found {
			c.logger.WarnContext(ctx, "jwks refresh failed, serving stale key", "kid", kid, "error", err)
			return checkAlg(key, alg)
		}
		return nil, err
	}

	key, _, found, _ = c.lookup(kid)
	if !found {
		c.markMissing(kid)
		return nil, auth.Errorf(auth.KindKeyNotFound, "kid %q", kid)
	}
	return checkAlg(key, alg)
}

// Refresh fetches the key set now, regardless of freshness.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.load(ctx)
	return err
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Fetches returns how many fetches the cache has issued.
func (c *Cache) Fetches() uint64 {
	return c.fetches.Load()
}

func (c *Cache) lookup(kid string) (jose.JSONWebKey, uint64, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stale := c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) >= c.ttl
	key, ok := c.keys[kid]
	if !ok && kid == "" && len(c.keys) == 1 {
		for _, only := range c.keys {
			key, ok = only, true
		}
	}
	return key, c.generation, ok, stale
}

func (c *Cache) refresh(ctx context.Context, kid string, observed uint64) error {
	ch := c.group.DoChan(kid, func() (any, error) {
		c.mu.RLock()
		gen := c.generation
		stale := c.fetchedAt.IsZero() || c.now().Sub(c.fetchedAt) >= c.ttl
		missedAt, missed := c.missing[kid]
		recentlyMissed := missed && c.minRefresh > 0 && c.now().Sub(missedAt) < c.minRefresh
		c.mu.RUnlock()

		if gen > observed && !stale {
			return nil, nil
		}
		if recentlyMissed && !stale {
			return nil, auth.Errorf(auth.KindKeyNotFound, "kid %q unknown after a recent refresh", kid)
		}
		return c.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return auth.Wrap(auth.KindProviderUnavailable, ctx.Err())
	}
}

func (c *Cache) markMissing(kid string) {
	if c.minRefresh <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.missing) >= maxMissing {
		for k, at := range c.missing {
			if now.Sub(at) >= c.minRefresh {
				delete(c.missing, k)
			}
		}
		if len(c.missing) >= maxMissing {
			clear(c.missing)
		}
	}
	c.missing[kid] = now
}

func (c *Cache) load(ctx context.Context) (any, error) {
	c.fetches.Add(1)
	set, err := c.fetcher.Fetch(ctx)
	if err != nil {
		if auth.KindOf(err) == auth.KindUnknown {
			err = auth.Wrap(auth.KindProviderUnavailable, err)
		}
		return nil, err
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use == "enc" || k.Key == nil {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
			if k.Key == nil {
				continue
			}
		}
		if _, dup := keys[k.KeyID]; dup {
			continue
		}
		keys[k.KeyID] = k
	}

	c.mu.Lock()
	c.keys = keys
	for kid := range keys {
		delete(c.missing, kid)
	}
	c.generation++
	c.fetchedAt = c.now()
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "jwks refreshed", "keys", len(keys))
	return nil, nil
}

func checkAlg(key jose.JSONWebKey, alg string) (any, error) {
	if key.Algorithm != "" && alg != "" && key.Algorithm != alg {
		return nil, auth.Errorf(auth.KindTokenSignatureInvalid, "key %q is for %s, token uses %s", key.KeyID, key.Algorithm, alg)
	}
	return key.Key, nil
}
