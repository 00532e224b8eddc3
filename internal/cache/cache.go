// Package cache is the short-TTL (<=60s) read cache spec.md §5 calls for in
// front of berths/vessels/tidal reads, built the same in-memory-then-Redis
// cascade as internal/portfolio.Manager.GetPortfolio: a local map checked
// first, then Redis, with the local map populated on Redis hit too. Two
// Redis client majors are wired deliberately (SPEC_FULL.md §11): v9 is the
// primary client used for berth/vessel reads, v8 is kept for the tidal
// lookup path — mirroring the teacher's own go.mod declaring both without
// ever importing v9 anywhere.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"
)

// Config holds both Redis endpoints; in most deployments they point at the
// same instance, kept as separate fields so each client can be pointed at a
// different logical database if ever split out.
type Config struct {
	PrimaryAddr string // v9 client: berths/vessels
	TidalAddr   string // v8 client: tidal samples
	TTL         time.Duration
}

// DefaultTTL matches spec.md §5's "berths/vessels/tidal cached <=60s".
const DefaultTTL = 60 * time.Second

type entry struct {
	value   []byte
	expires time.Time
}

// Cache is the short-TTL cascade: local map -> Redis -> caller-supplied
// loader.
type Cache struct {
	mu    sync.RWMutex
	local map[string]entry
	ttl   time.Duration

	primary *redisv9.Client
	tidal   *redisv8.Client
}

// New builds a Cache from cfg. Either Redis address may be empty, in which
// case that tier is skipped and only the local map (plus loader) is used —
// useful for tests and single-process deployments.
func New(cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{local: make(map[string]entry), ttl: ttl}
	if cfg.PrimaryAddr != "" {
		c.primary = redisv9.NewClient(&redisv9.Options{Addr: cfg.PrimaryAddr})
	}
	if cfg.TidalAddr != "" {
		c.tidal = redisv8.NewClient(&redisv8.Options{Addr: cfg.TidalAddr})
	}
	return c
}

func (c *Cache) Close() error {
	var err error
	if c.primary != nil {
		err = c.primary.Close()
	}
	if c.tidal != nil {
		if tErr := c.tidal.Close(); tErr != nil {
			err = tErr
		}
	}
	return err
}

// Loader fetches the authoritative value on a full cache miss.
type Loader func(ctx context.Context) (interface{}, error)

// GetBerth/GetVessel-style lookups all go through Get: check local, then
// Redis v9, then call load and populate both tiers.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}, load Loader) error {
	if c.getLocal(key, dest) {
		return nil
	}

	if c.primary != nil {
		raw, err := c.primary.Get(ctx, key).Bytes()
		if err == nil {
			if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
				c.setLocal(key, raw)
				return nil
			}
		}
	}

	value, err := load(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}

	c.setLocal(key, raw)
	if c.primary != nil {
		c.primary.Set(ctx, key, raw, c.ttl)
	}
	return nil
}

// GetTidal is the v8-backed lookup path for tidal samples, kept on its own
// client per SPEC_FULL.md §11's dual-major-version requirement.
func (c *Cache) GetTidal(ctx context.Context, key string, dest interface{}, load Loader) error {
	if c.getLocal(key, dest) {
		return nil
	}
	if c.tidal != nil {
		raw, err := c.tidal.Get(ctx, key).Bytes()
		if err == nil {
			if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
				c.setLocal(key, raw)
				return nil
			}
		}
	}

	value, err := load(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}

	c.setLocal(key, raw)
	if c.tidal != nil {
		c.tidal.Set(ctx, key, raw, c.ttl)
	}
	return nil
}

// Invalidate drops a key from the local map and both Redis tiers — used
// after a write (e.g. PutBerth) so a stale cached read can't outlive the
// write that should supersede it.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()

	if c.primary != nil {
		c.primary.Del(ctx, key)
	}
	if c.tidal != nil {
		c.tidal.Del(ctx, key)
	}
}

func (c *Cache) getLocal(key string, dest interface{}) bool {
	c.mu.RLock()
	e, ok := c.local[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return false
	}
	return json.Unmarshal(e.value, dest) == nil
}

func (c *Cache) setLocal(key string, raw []byte) {
	c.mu.Lock()
	c.local[key] = entry{value: raw, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
