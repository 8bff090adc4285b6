package hue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	keyLights = "lights"
	keyGroups = "groups"
)

// StateSource fetches bridge state from the network.
type StateSource interface {
	Lights(ctx context.Context) (map[string]Light, error)
	Groups(ctx context.Context) (map[string]Group, error)
}

// StateCache caches lights and groups with a TTL. Concurrent misses for the
// same resource share one fetch.
type StateCache struct {
	source StateSource
	cache  gcache.Cache
	sf     singleflight.Group
	ttl    time.Duration
}

// NewStateCache creates a new state cache.
// Parameters:
//   - source: where misses are fetched from
//   - ttl: Time-to-live for cache entries (0 = use default 5 minutes)
func NewStateCache(source StateSource, ttl time.Duration) *StateCache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	log.Info().Dur("ttl", ttl).Msg("Bridge state cache initialized")

	return &StateCache{
		source: source,
		cache:  gcache.New(8).LRU().Expiration(ttl).Build(),
		ttl:    ttl,
	}
}

// Lights returns cached lights, fetching them when stale.
func (c *StateCache) Lights(ctx context.Context) (map[string]Light, error) {
	v, err := c.load(ctx, keyLights, func(ctx context.Context) (any, error) {
		return c.source.Lights(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Light), nil
}

// Groups returns cached groups, fetching them when stale.
func (c *StateCache) Groups(ctx context.Context) (map[string]Group, error) {
	v, err := c.load(ctx, keyGroups, func(ctx context.Context) (any, error) {
		return c.source.Groups(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Group), nil
}

// CachedState returns lights and groups as one snapshot.
func (c *StateCache) CachedState(ctx context.Context) (*State, error) {
	lights, err := c.Lights(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch lights: %w", err)
	}
	groups, err := c.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch groups: %w", err)
	}
	return &State{Lights: lights, Groups: groups, FetchedAt: time.Now()}, nil
}

// Invalidate drops all cached entries.
func (c *StateCache) Invalidate() {
	c.cache.Purge()
}

func (c *StateCache) load(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, err := c.cache.Get(key); err == nil {
		return v, nil
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		return nil, err
	}

	v, err, shared := c.sf.Do(key, func() (any, error) {
		if v, err := c.cache.Get(key); err == nil {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(key, v); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("resource", key).Bool("shared", shared).Msg("Bridge state fetched")
	return v, nil
}
