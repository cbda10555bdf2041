// Package redis provides a snapshot cache shared by every process that
// serves the same event store.
//
// Snapshots are stored as Redis hashes keyed by aggregate ID. Put replaces
// the cached snapshot the way the backend upserts it. PutIfNewer, used when a
// backend read populates the cache, never replaces a newer cached version, so
// a slow reader cannot roll the cache back. Redis failures are treated as misses, and reads fall through to the backend.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	store := stoat.New(backend, stoat.WithSnapshotCache(redis.New(client)))
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AshkanYarmoradi/go-stoat"
)

// DefaultKeyPrefix namespaces cache keys.
const DefaultKeyPrefix = "stoat:snapshot:"

var putScript = goredis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'timestamp', ARGV[2], 'state', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

var putIfNewerScript = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'timestamp', ARGV[2], 'state', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// Cache implements stoat.SnapshotCache on Redis.
type Cache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger stoat.Logger
}

var (
	_ stoat.SnapshotCache  = (*Cache)(nil)
	_ stoat.SnapshotFiller = (*Cache)(nil)
)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL expires cached snapshots. Zero keeps them until replaced.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl < 0 {
			ttl = 0
		}
		c.ttl = ttl
	}
}

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// WithLogger logs Redis failures that were turned into misses.
func WithLogger(l stoat.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New creates a Cache over a Redis client.
func New(client goredis.UniversalClient, opts ...Option) *Cache {
	if client == nil {
		panic("stoat/redis: client is nil")
	}
	c := &Cache{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(aggregateID string) string {
	return c.prefix + aggregateID
}

// Get implements stoat.SnapshotCache.
func (c *Cache) Get(ctx context.Context, aggregateID string) (stoat.Snapshot, bool) {
	key := c.key(aggregateID)
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		c.warn("Snapshot cache read failed", aggregateID, err)
		return stoat.Snapshot{}, false
	}
	if len(fields) == 0 {
		return stoat.Snapshot{}, false
	}

	snapshot, err := decode(aggregateID, fields)
	if err != nil {
		// Drop entries this version cannot read.
		_ = c.client.Del(ctx, key).Err()
		c.warn("Evicted unreadable cached snapshot", aggregateID, err)
		return stoat.Snapshot{}, false
	}
	return snapshot, true
}

// Put implements stoat.SnapshotCache. It replaces any cached snapshot.
func (c *Cache) Put(ctx context.Context, snapshot stoat.Snapshot) error {
	return c.run(ctx, putScript, snapshot)
}

// PutIfNewer implements stoat.SnapshotFiller. A cached snapshot with a higher
// version is kept.
func (c *Cache) PutIfNewer(ctx context.Context, snapshot stoat.Snapshot) error {
	return c.run(ctx, putIfNewerScript, snapshot)
}

func (c *Cache) run(ctx context.Context, script *goredis.Script, snapshot stoat.Snapshot) error {
	err := script.Run(ctx, c.client, []string{c.key(snapshot.AggregateID)},
		snapshot.Version,
		snapshot.Timestamp.UTC().Format(time.RFC3339Nano),
		snapshot.State,
		c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("stoat/redis: put snapshot %q: %w", snapshot.AggregateID, err)
	}
	return nil
}

// Invalidate removes the cached snapshot of an aggregate.
func (c *Cache) Invalidate(ctx context.Context, aggregateID string) error {
	if err := c.client.Del(ctx, c.key(aggregateID)).Err(); err != nil {
		return fmt.Errorf("stoat/redis: invalidate %q: %w", aggregateID, err)
	}
	return nil
}

func (c *Cache) warn(msg, aggregateID string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, "aggregateId", aggregateID, "error", err)
	}
}

func decode(aggregateID string, fields map[string]string) (stoat.Snapshot, error) {
	state, ok := fields["state"]
	if !ok {
		return stoat.Snapshot{}, errors.New("missing state")
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return stoat.Snapshot{}, fmt.Errorf("version: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, fields["timestamp"])
	if err != nil {
		return stoat.Snapshot{}, fmt.Errorf("timestamp: %w", err)
	}
	return stoat.Snapshot{
		AggregateID: aggregateID,
		State:       []byte(state),
		Version:     version,
		Timestamp:   ts,
	}, nil
}
