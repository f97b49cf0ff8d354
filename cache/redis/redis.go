// Package redis provides a Redis-backed cache.Backend for deployments
// where authorization caches are shared across engine instances.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commercekit/identity/cache"
)

// Generation counters live beside the value under a separate key so an
// evicted or expired entry cannot cause a stamp to regress. The counter
// outlives the value by genTTLFloor at minimum.
const genTTLFloor = 24 * time.Hour

var setLua = redis.NewScript(`
local gen = redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
local packed = string.format("%020d", gen) .. ARGV[1]
redis.call("SET", KEYS[1], packed, "PX", ARGV[3])
return gen
`)

// casLua writes only if the generation counter still holds the value the
// caller stamped its computation with. -1 reports a refused write.
var casLua = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[2]) or "0")
if cur ~= tonumber(ARGV[4]) then
	return -1
end
local gen = redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
local packed = string.format("%020d", gen) .. ARGV[1]
redis.call("SET", KEYS[1], packed, "PX", ARGV[3])
return gen
`)

// delLua advances the generation counter atomically with removing the
// value, so an in-flight conditional write stamped before the eviction
// is refused.
var delLua = redis.NewScript(`
redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`)

// Backend implements cache.Backend on a Redis client. Entries are stored
// as a fixed-width decimal generation prefix followed by the raw value.
type Backend struct {
	client redis.UniversalClient
	prefix string
}

// NewBackend creates a Backend. prefix namespaces every key; empty means
// "iac" (identity access cache).
func NewBackend(client redis.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = "iac"
	}
	return &Backend{client: client, prefix: prefix}
}

var _ cache.Backend = (*Backend)(nil)

func (b *Backend) key(key string) string    { return b.prefix + ":" + key }
func (b *Backend) genKey(key string) string { return b.prefix + ":gen:" + key }

// Get reports the generation counter even on a miss, so a caller about
// to recompute can stamp its eventual write.
func (b *Backend) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	res, err := b.client.MGet(ctx, b.key(key), b.genKey(key)).Result()
	if err != nil || len(res) != 2 {
		return cache.Entry{}, false, cache.ErrUnavailable
	}
	if raw, ok := res[0].(string); ok {
		// Corrupt entries are treated as misses; the next write repairs
		// the key.
		if entry, err := unpack([]byte(raw)); err == nil {
			return entry, true, nil
		}
	}
	var gen uint64
	if s, ok := res[1].(string); ok {
		gen, _ = strconv.ParseUint(s, 10, 64)
	}
	return cache.Entry{Generation: gen}, false, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (cache.Entry, error) {
	genTTL := genTTLFloor
	if ttl > genTTL {
		genTTL = 2 * ttl
	}
	gen, err := setLua.Run(ctx, b.client,
		[]string{b.key(key), b.genKey(key)},
		value, genTTL.Milliseconds(), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return cache.Entry{}, cache.ErrUnavailable
	}
	return cache.Entry{Value: value, Generation: uint64(gen)}, nil
}

func (b *Backend) CompareAndSet(ctx context.Context, key string, value []byte, ttl time.Duration, expect uint64) (cache.Entry, bool, error) {
	genTTL := genTTLFloor
	if ttl > genTTL {
		genTTL = 2 * ttl
	}
	gen, err := casLua.Run(ctx, b.client,
		[]string{b.key(key), b.genKey(key)},
		value, genTTL.Milliseconds(), ttl.Milliseconds(), expect,
	).Int64()
	if err != nil {
		return cache.Entry{}, false, cache.ErrUnavailable
	}
	if gen < 0 {
		return cache.Entry{}, false, nil
	}
	return cache.Entry{Value: value, Generation: uint64(gen)}, true, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	err := delLua.Run(ctx, b.client,
		[]string{b.key(key), b.genKey(key)},
		genTTLFloor.Milliseconds(),
	).Err()
	if err != nil {
		return cache.ErrUnavailable
	}
	return nil
}

// Flush removes cached values under the backend prefix. Generation
// counters are kept so stamps stay monotonic across the flush.
func (b *Backend) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+":*", 256).Result()
		if err != nil {
			return cache.ErrUnavailable
		}
		deletable := keys[:0]
		for _, k := range keys {
			if len(k) < len(b.prefix)+5 || k[len(b.prefix)+1:len(b.prefix)+5] != "gen:" {
				deletable = append(deletable, k)
			}
		}
		if len(deletable) > 0 {
			if err := b.client.Del(ctx, deletable...).Err(); err != nil {
				return cache.ErrUnavailable
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

const genPrefixLen = 20

func unpack(raw []byte) (cache.Entry, error) {
	if len(raw) < genPrefixLen {
		return cache.Entry{}, errors.New("short cache entry")
	}
	var gen uint64
	for _, c := range raw[:genPrefixLen] {
		if c < '0' || c > '9' {
			return cache.Entry{}, errors.New("malformed generation prefix")
		}
		gen = gen*10 + uint64(c-'0')
	}
	return cache.Entry{Value: raw[genPrefixLen:], Generation: gen}, nil
}
