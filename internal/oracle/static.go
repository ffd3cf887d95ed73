package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// Static is a PriceOracle over samples set by hand. It backs local runs with
// oracle.source = "static" and the engine tests.
type Static struct {
	mu      sync.RWMutex
	samples map[string]domain.PriceSample
	now     func() time.Time
}

// NewStatic returns an empty static oracle using the wall clock.
func NewStatic() *Static {
	return &Static{
		samples: make(map[string]domain.PriceSample),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for age checks.
func (o *Static) SetClock(now func() time.Time) { o.now = now }

// Set stores a sample verbatim.
func (o *Static) Set(s domain.PriceSample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples[s.FeedID] = s
}

// SetPrice stores a fully verified sample published now.
func (o *Static) SetPrice(feedID string, price int64) {
	o.Set(domain.PriceSample{
		FeedID:       feedID,
		Price:        price,
		Expo:         -8,
		PublishTime:  o.now(),
		Verification: domain.VerificationFull,
	})
}

// GetPrice implements domain.PriceOracle.
func (o *Static) GetPrice(_ context.Context, feedID string, maxAge time.Duration) (domain.PriceSample, error) {
	o.mu.RLock()
	s, ok := o.samples[feedID]
	o.mu.RUnlock()
	if !ok {
		return domain.PriceSample{}, fmt.Errorf("oracle: no sample for %s: %w", feedID, domain.ErrStalePriceFeed)
	}
	if err := Validate(s, feedID, o.now(), maxAge); err != nil {
		return domain.PriceSample{}, err
	}
	return s, nil
}

// Hold republishes price for feedID every interval until ctx is done, keeping
// a fixed local price fresh.
func (o *Static) Hold(ctx context.Context, feedID string, price int64, interval time.Duration) error {
	o.SetPrice(feedID, price)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.SetPrice(feedID, price)
		}
	}
}
