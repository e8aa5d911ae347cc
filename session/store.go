// Package session keeps sticky sessions across requests: stores to persist
// them and an HTTP middleware binding a multidb.Scope to every request.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"

	"github.com/ice-blockchain/go-multidb"
)

const (
	DefaultMemoryStoreSize = 10000
	DefaultMemoryStoreTTL  = 10 * time.Minute
	DefaultRedisPrefix     = "multidb:session:"
)

// Store persists sticky sessions by session id.
type Store interface {
	// Load returns the session stored under id, or nil if there is none.
	Load(ctx context.Context, id string) (*multidb.StickySession, error)
	Save(ctx context.Context, id string, sess *multidb.StickySession) error
	Delete(ctx context.Context, id string) error
}

func clone(sess *multidb.StickySession) *multidb.StickySession {
	ret := &multidb.StickySession{
		Tables: make(map[string]int64, len(sess.Tables)),
		Until:  sess.Until,
	}
	for table, exp := range sess.Tables {
		ret.Tables[table] = exp
	}
	return ret
}

// MemoryStore keeps sessions in a bounded in-process LRU. Entries expire
// after a fixed TTL.
type MemoryStore struct {
	cache *expirable.LRU[string, *multidb.StickySession]
}

// NewMemoryStore creates a store of at most size sessions. Zero values mean
// defaults.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	if ttl <= 0 {
		ttl = DefaultMemoryStoreTTL
	}
	return &MemoryStore{cache: expirable.NewLRU[string, *multidb.StickySession](size, nil, ttl)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*multidb.StickySession, error) {
	sess, ok := s.cache.Get(id)
	if !ok {
		return nil, nil
	}
	return clone(sess), nil
}

func (s *MemoryStore) Save(_ context.Context, id string, sess *multidb.StickySession) error {
	s.cache.Add(id, clone(sess))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Remove(id)
	return nil
}

func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// RedisClient is the part of *redis.Client a RedisStore uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps msgpack encoded sessions in Redis, shared by every
// application instance. Keys expire together with the session.
type RedisStore struct {
	client RedisClient
	prefix string
	clock  clock.Clock
}

type RedisStoreOpts struct {
	// Prefix of the keys. Defaults to DefaultRedisPrefix.
	Prefix string
	Clock  clock.Clock
}

func NewRedisStore(client RedisClient, opts RedisStoreOpts) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &RedisStore{client: client, prefix: opts.Prefix, clock: opts.Clock}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (*multidb.StickySession, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess := &multidb.StickySession{}
	if err := sess.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return sess, nil
}

// Save stores the session until it expires. An expired session is deleted
// instead.
func (s *RedisStore) Save(ctx context.Context, id string, sess *multidb.StickySession) error {
	ttl := time.Unix(sess.Until, 0).Sub(s.clock.Now())
	if ttl <= 0 {
		return s.Delete(ctx, id)
	}

	data, err := sess.MarshalBinary()
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(id), data, ttl.Round(time.Second)).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}
