package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"region-service/internal/geo"
	"region-service/internal/metrics"
)

const (
	cacheKeyPrefix = "geocode:"
	// notFoundMarker is stored for addresses the provider could not resolve.
	notFoundMarker = "-"
)

// Cache remembers geocoding results in redis. Redis failures are logged and
// the wrapped geocoder is called as if the cache were empty.
type Cache struct {
	next   Geocoder
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCache(next Geocoder, client *redis.Client, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "geocode_cache").Logger(),
	}
}

func (c *Cache) Resolve(ctx context.Context, address, countryHint string) (geo.Point, error) {
	key := cacheKey(address, countryHint)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == notFoundMarker {
			metrics.GeocodeCacheHitsTotal.Inc()
			return geo.Point{}, ErrNotFound
		}
		var pt geo.Point
		if jsonErr := json.Unmarshal([]byte(cached), &pt); jsonErr == nil {
			metrics.GeocodeCacheHitsTotal.Inc()
			return pt, nil
		}
		c.log.Warn().Str("key", key).Msg("dropping unreadable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn().Err(err).Msg("geocode cache read failed")
	}
	metrics.GeocodeCacheMissesTotal.Inc()

	pt, err := c.next.Resolve(ctx, address, countryHint)
	switch {
	case err == nil:
		data, _ := json.Marshal(pt)
		c.store(ctx, key, string(data))
	case errors.Is(err, ErrNotFound):
		c.store(ctx, key, notFoundMarker)
	}
	return pt, err
}

func (c *Cache) store(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("geocode cache write failed")
	}
}

func cacheKey(address, countryHint string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(address)), " ")
	return cacheKeyPrefix + strings.ToLower(countryHint) + ":" + normalized
}
