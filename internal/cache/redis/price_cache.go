package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// PriceCache implements domain.PriceCache on Redis hashes. Each feed's
// newest sample lives at "vaultbot:price:{feedID}".
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires samples that
// stop being refreshed.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(feedID string) string {
	return keyPrefix + "price:" + feedID
}

// SetSample stores s unless the cache already holds a newer sample for the
// same feed.
func (pc *PriceCache) SetSample(ctx context.Context, s domain.PriceSample) error {
	key := priceKey(s.FeedID)
	if current, err := pc.GetSample(ctx, s.FeedID); err == nil && current.PublishTime.After(s.PublishTime) {
		return nil
	}

	fields := map[string]interface{}{
		"price":        strconv.FormatInt(s.Price, 10),
		"conf":         strconv.FormatUint(s.Conf, 10),
		"expo":         strconv.FormatInt(int64(s.Expo), 10),
		"publish_time": strconv.FormatInt(s.PublishTime.UnixNano(), 10),
		"verification": string(s.Verification),
	}
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", s.FeedID, err)
	}
	return nil
}

// GetSample returns the newest cached sample for feedID, or
// domain.ErrNotFound.
func (pc *PriceCache) GetSample(ctx context.Context, feedID string) (domain.PriceSample, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(feedID)).Result()
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return domain.PriceSample{}, fmt.Errorf("redis: price %s: %w", feedID, domain.ErrNotFound)
	}
	return decodeSample(feedID, vals)
}

func decodeSample(feedID string, vals map[string]string) (domain.PriceSample, error) {
	s := domain.PriceSample{
		FeedID:       feedID,
		Verification: domain.VerificationLevel(vals["verification"]),
	}
	var err error
	if s.Price, err = strconv.ParseInt(vals["price"], 10, 64); err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse price %s: %w", feedID, err)
	}
	if s.Conf, err = strconv.ParseUint(vals["conf"], 10, 64); err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse conf %s: %w", feedID, err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse expo %s: %w", feedID, err)
	}
	s.Expo = int32(expo)
	ns, err := strconv.ParseInt(vals["publish_time"], 10, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse publish time %s: %w", feedID, err)
	}
	s.PublishTime = time.Unix(0, ns).UTC()
	return s, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
