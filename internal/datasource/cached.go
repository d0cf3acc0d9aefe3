package datasource

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/yourusername/furlong/internal/models"
)

// CachedSource caches race cards and official results. Odds always go to the
// underlying source since the safety gate needs the live price.
type CachedSource struct {
	RaceSource
	cache *gocache.Cache
}

// NewCachedSource wraps src with a cache of the given TTL
func NewCachedSource(src RaceSource, ttl time.Duration) *CachedSource {
	return &CachedSource{RaceSource: src, cache: gocache.New(ttl, 2*ttl)}
}

// Race implements RaceSource
func (c *CachedSource) Race(ctx context.Context, id uuid.UUID) (*models.Race, error) {
	key := "race:" + id.String()
	if v, ok := c.cache.Get(key); ok {
		return v.(*models.Race), nil
	}
	race, err := c.RaceSource.Race(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, race)
	return race, nil
}

// Result implements RaceSource. Only official results are cached.
func (c *CachedSource) Result(ctx context.Context, raceID uuid.UUID) (*models.RaceResult, error) {
	key := "result:" + raceID.String()
	if v, ok := c.cache.Get(key); ok {
		return v.(*models.RaceResult), nil
	}
	result, err := c.RaceSource.Result(ctx, raceID)
	if err != nil {
		return nil, err
	}
	if result.Official {
		c.cache.Set(key, result, gocache.NoExpiration)
	}
	return result, nil
}
