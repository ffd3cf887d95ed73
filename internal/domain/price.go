package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// VerificationLevel describes how much of a price update's proof was checked.
type VerificationLevel string

const (
	VerificationFull    VerificationLevel = "full"
	VerificationPartial VerificationLevel = "partial"
)

// PriceSample is a single oracle observation. Price is the raw mantissa; the
// real price is Price * 10^Expo.
type PriceSample struct {
	FeedID       string            `json:"feed_id"`
	Price        int64             `json:"price"`
	Conf         uint64            `json:"conf"`
	Expo         int32             `json:"expo"`
	PublishTime  time.Time         `json:"publish_time"`
	Verification VerificationLevel `json:"verification"`
}

// Decimal returns the human-readable price.
func (s PriceSample) Decimal() decimal.Decimal {
	return decimal.New(s.Price, s.Expo)
}

// Age returns how old the sample is at now.
func (s PriceSample) Age(now time.Time) time.Duration {
	return now.Sub(s.PublishTime)
}

// PriceOracle supplies verified, recency-bounded prices.
type PriceOracle interface {
	GetPrice(ctx context.Context, feedID string, maxAge time.Duration) (PriceSample, error)
}
