package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// LatestFetcher is the REST side of Hermes.
type LatestFetcher interface {
	Latest(ctx context.Context, feedIDs ...string) ([]domain.PriceSample, error)
}

// CachedOracle serves prices from the cache populated by Stream and falls
// back to a REST fetch when the cached sample is missing or too old.
type CachedOracle struct {
	cache   domain.PriceCache
	fetcher LatestFetcher
	now     func() time.Time
	logger  *slog.Logger
}

// NewCachedOracle creates an oracle over cache. fetcher may be nil, in which
// case a missing or stale cache entry is an error.
func NewCachedOracle(cache domain.PriceCache, fetcher LatestFetcher, logger *slog.Logger) *CachedOracle {
	return &CachedOracle{
		cache:   cache,
		fetcher: fetcher,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "oracle")),
	}
}

// SetClock overrides the clock used for age checks.
func (o *CachedOracle) SetClock(now func() time.Time) { o.now = now }

// GetPrice implements domain.PriceOracle.
func (o *CachedOracle) GetPrice(ctx context.Context, feedID string, maxAge time.Duration) (domain.PriceSample, error) {
	id, err := NormalizeFeedID(feedID)
	if err != nil {
		return domain.PriceSample{}, err
	}

	cached, cacheErr := o.cache.GetSample(ctx, id)
	if cacheErr == nil {
		err := Validate(cached, id, o.now(), maxAge)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, domain.ErrStalePriceFeed) || o.fetcher == nil {
			return domain.PriceSample{}, err
		}
	} else if !errors.Is(cacheErr, domain.ErrNotFound) {
		o.logger.WarnContext(ctx, "price cache read failed",
			slog.String("feed_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	if o.fetcher == nil {
		return domain.PriceSample{}, fmt.Errorf("oracle: no cached sample for %s: %w", id, domain.ErrStalePriceFeed)
	}
	samples, err := o.fetcher.Latest(ctx, id)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("oracle: fetch %s: %w: %w", id, domain.ErrStalePriceFeed, err)
	}
	for _, s := range samples {
		if s.FeedID != id {
			continue
		}
		if err := Validate(s, id, o.now(), maxAge); err != nil {
			return domain.PriceSample{}, err
		}
		if err := o.cache.SetSample(ctx, s); err != nil {
			o.logger.WarnContext(ctx, "price cache write failed",
				slog.String("feed_id", id),
				slog.String("error", err.Error()),
			)
		}
		return s, nil
	}
	return domain.PriceSample{}, fmt.Errorf("oracle: hermes returned no update for %s: %w", id, domain.ErrInvalidPriceFeed)
}

// MemoryCache is a process-local domain.PriceCache.
type MemoryCache struct {
	mu      sync.RWMutex
	samples map[string]domain.PriceSample
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{samples: make(map[string]domain.PriceSample)}
}

// SetSample keeps the newest sample per feed.
func (c *MemoryCache) SetSample(_ context.Context, s domain.PriceSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.samples[s.FeedID]; ok && cur.PublishTime.After(s.PublishTime) {
		return nil
	}
	c.samples[s.FeedID] = s
	return nil
}

// GetSample returns the cached sample for feedID.
func (c *MemoryCache) GetSample(_ context.Context, feedID string) (domain.PriceSample, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[feedID]
	if !ok {
		return domain.PriceSample{}, fmt.Errorf("oracle: sample %s: %w", feedID, domain.ErrNotFound)
	}
	return s, nil
}
