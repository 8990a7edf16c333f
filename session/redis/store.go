// Package redis is a session.Store that persists sessions in Redis using the
// binary record format of session.Encode.
//
// Each session lives under <prefix>:<id> with a PX expiry equal to its
// remaining lifetime. A per-identity set indexes session ids so that every
// session of an identity can be revoked at once.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/session"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "authkestra:sess"

const saveSessionScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local current = redis.call("PTTL", KEYS[2])
if current < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var (
	saveSessionLua   = goredis.NewScript(saveSessionScript)
	deleteSessionLua = goredis.NewScript(deleteSessionScript)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a Redis backed session.Store. It is safe for concurrent use.
type Store struct {
	redis  goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ session.Store = (*Store)(nil)

// New returns a Store over client.
func New(client goredis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &Store{redis: client, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
}

func (s *Store) indexKey(identity auth.Identity) string {
	provider := identity.ProviderID()
	return s.prefix + ":idx:" + strconv.Itoa(len(provider)) + ":" + provider + ":" + identity.ExternalID()
}

func unavailable(err error) error {
	return auth.Wrap(auth.KindProviderUnavailable, err)
}

// Load implements session.Store. Expired and corrupt records are removed and
// reported as absent.
func (s *Store) Load(ctx context.Context, id string) (*session.Session, error) {
	if !session.ValidID(id) {
		return nil, nil
	}
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}

	sess, err := session.Decode(id, data)
	if err != nil {
		if delErr := s.redis.Del(ctx, s.key(id)).Err(); delErr != nil {
			return nil, unavailable(delErr)
		}
		return nil, nil
	}
	if sess.Expired(s.now()) {
		if err := s.remove(ctx, sess); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	now := s.now()
	if err := session.CheckSave(ctx, sess, now); err != nil {
		return err
	}
	data, err := session.Encode(sess)
	if err != nil {
		return auth.Wrap(auth.KindProviderRejected, err)
	}

	ttl := sess.TTL(now).Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	err = saveSessionLua.Run(ctx, s.redis,
		[]string{s.key(sess.ID), s.indexKey(sess.Identity)},
		data, ttl, sess.ID,
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !session.ValidID(id) {
		return nil
	}
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return unavailable(err)
	}
	sess, err := session.Decode(id, data)
	if err != nil {
		if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}
	return s.remove(ctx, sess)
}

func (s *Store) remove(ctx context.Context, sess *session.Session) error {
	err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(sess.ID), s.indexKey(sess.Identity)},
		sess.ID,
	).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return unavailable(err)
	}
	return nil
}

// SessionIDs returns the live session ids of identity. Index entries whose
// session has expired are pruned.
func (s *Store) SessionIDs(ctx context.Context, identity auth.Identity) ([]string, error) {
	indexKey := s.indexKey(identity)
	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*goredis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for i, cmd := range exists {
		if cmd.Val() == 1 {
			live = append(live, ids[i])
		} else {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, unavailable(err)
		}
	}
	return live, nil
}

// DeleteAllForIdentity removes every session of identity and returns how many
// existed.
//
// A session saved concurrently with this call may survive it.
func (s *Store) DeleteAllForIdentity(ctx context.Context, identity auth.Identity) (int, error) {
	indexKey := s.indexKey(identity)
	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, unavailable(err)
	}

	dels := make([]*goredis.IntCmd, 0, len(ids))
	_, err = s.redis.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range ids {
			dels = append(dels, pipe.Del(ctx, s.key(id)))
		}
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}

	removed := 0
	for _, cmd := range dels {
		removed += int(cmd.Val())
	}
	return removed, nil
}

// Ping checks connectivity and returns the round trip time.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}
