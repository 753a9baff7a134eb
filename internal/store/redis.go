package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is used when no prefix is configured.
const DefaultRedisPrefix = "crmchat:"

// Namespace lease settings. lockLease bounds how long a crashed holder
// blocks its namespace.
const (
	lockKey      = "_lock"
	lockLease    = 10 * time.Second
	lockWait     = 5 * time.Second
	lockRetryMin = 5 * time.Millisecond
	lockRetryMax = 100 * time.Millisecond
)

// releaseScript deletes the lease only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store using Redis. Keys are laid out as
// <prefix><namespace>:<key>.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store. A zero ttl keeps keys forever;
// otherwise the expiry is refreshed on every read and write.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(namespace, key string) string {
	return s.prefix + namespace + ":" + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	k := s.key(namespace, key)
	val, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", namespace, key, err)
	}

	if s.ttl > 0 {
		if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
			slog.Warn("failed to refresh key ttl", "namespace", namespace, "key", key, "error", err)
		}
	}
	return val, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(namespace, key), value, s.ttl).Err(); err != nil {
		return wrap("set", namespace, key, err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, s.key(namespace, key)).Err(); err != nil {
		return wrap("remove", namespace, key, err)
	}
	return nil
}

// Namespaces implements Store by scanning the prefix.
func (s *RedisStore) Namespaces(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), s.prefix)
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 || rest[idx+1:] == lockKey {
			continue
		}
		seen[rest[:idx]] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("namespaces", "", "", err)
	}

	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap("ping", "", "", s.client.Ping(ctx).Err())
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Lock implements Locker with a SET NX lease per namespace, so registries in
// different processes sharing this Redis serialize their read-modify-writes.
func (s *RedisStore) Lock(ctx context.Context, namespace string) (func(), error) {
	k := s.key(namespace, lockKey)
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	backoff := lockRetryMin
	for {
		ok, err := s.client.SetNX(ctx, k, token, lockLease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, wrap("lock", namespace, "", ErrLockTimeout)
			}
			return nil, wrap("lock", namespace, "", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, wrap("lock", namespace, "", ErrLockTimeout)
		case <-timer.C:
		}
		backoff = min(backoff*2, lockRetryMax)
	}

	return func() {
		// The caller's context may already be done; release regardless.
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		defer rcancel()
		if err := releaseScript.Run(rctx, s.client, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			slog.Warn("failed to release namespace lock", "namespace", namespace, "error", err)
		}
	}, nil
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Locker = (*RedisStore)(nil)
)
