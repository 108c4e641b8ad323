package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisOpTimeout bounds every Redis round trip, since DB carries no context.
const redisOpTimeout = 5 * time.Second

// RedisDB implements DB on top of a Redis server. All keys are namespaced
// under a fixed prefix so several relays can share one Redis database.
type RedisDB struct {
	rdb       *redis.Client
	namespace string
}

// NewRedis connects to the Redis server at addr and verifies it with PING.
func NewRedis(addr, password string, db int, namespace string) (*RedisDB, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisDB{rdb: rdb, namespace: namespace}, nil
}

func (r *RedisDB) key(k []byte) string {
	return r.namespace + string(k)
}

// Get retrieves a value by key.
func (r *RedisDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	val, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Put stores a key-value pair.
func (r *RedisDB) Put(key, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// PutWithTTL stores value with a Redis expiry. A ttl of zero or less
// keeps the key until it is deleted.
func (r *RedisDB) PutWithTTL(key, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.rdb.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (r *RedisDB) Delete(key []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (r *RedisDB) Has(key []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// ForEach iterates over all keys with the given prefix in key order.
func (r *RedisDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	var keys []string
	iter := r.rdb.Scan(ctx, 0, escapeGlob(r.key(prefix))+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)

	for _, k := range keys {
		val, err := r.rdb.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // Expired or deleted between SCAN and GET.
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		if err := fn([]byte(strings.TrimPrefix(k, r.namespace)), val); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the Redis connection pool.
func (r *RedisDB) Close() error {
	return r.rdb.Close()
}

// escapeGlob escapes the characters Redis MATCH treats as glob syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
