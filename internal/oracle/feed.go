// Package oracle supplies verified, recency-bounded price samples from the
// Pyth Hermes service. Samples arrive over the Hermes websocket stream into a
// PriceCache and are read back through CachedOracle, which falls back to the
// Hermes REST API when the cache has nothing usable.
package oracle

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// NormalizeFeedID returns id as a lower-case, 0x-prefixed 32-byte hex string.
// Hermes reports ids without the prefix, configuration usually has it.
func NormalizeFeedID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, "0x") && !strings.HasPrefix(id, "0X") {
		id = "0x" + id
	}
	raw, err := hexutil.Decode(strings.ToLower(id))
	if err != nil {
		return "", fmt.Errorf("oracle: feed id %q: %v: %w", id, err, domain.ErrInvalidPriceFeed)
	}
	if len(raw) != common.HashLength {
		return "", fmt.Errorf("oracle: feed id %q has %d bytes: %w", id, len(raw), domain.ErrInvalidPriceFeed)
	}
	return common.BytesToHash(raw).Hex(), nil
}

// Validate applies the acceptance rules to a sample read for feedID at now.
// Verification is checked before age.
func Validate(s domain.PriceSample, feedID string, now time.Time, maxAge time.Duration) error {
	if s.FeedID != feedID {
		return fmt.Errorf("oracle: sample for %s, want %s: %w", s.FeedID, feedID, domain.ErrInvalidPriceFeed)
	}
	if s.Verification != domain.VerificationFull {
		return fmt.Errorf("oracle: %s verification %q: %w", feedID, s.Verification, domain.ErrUnverifiedPriceUpdate)
	}
	if age := s.Age(now); age > maxAge {
		return fmt.Errorf("oracle: %s is %s old, max %s: %w", feedID, age.Truncate(time.Second), maxAge, domain.ErrStalePriceFeed)
	}
	if s.Price <= 0 {
		return fmt.Errorf("oracle: %s price %d: %w", feedID, s.Price, domain.ErrInvalidPriceFeed)
	}
	return nil
}
