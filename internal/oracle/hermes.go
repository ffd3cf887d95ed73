package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/metrics"
)

// accumulatorMagic prefixes every signed Hermes accumulator update ("PNAU").
var accumulatorMagic = []byte{0x50, 0x4e, 0x41, 0x55}

// ErrOracleUnavailable is returned while the Hermes circuit breaker is open.
var ErrOracleUnavailable = errors.New("oracle: hermes unavailable, circuit breaker open")

// HermesConfig configures the REST client.
type HermesConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	// Breaker trips after FailureRatio of at least MinRequests calls fail in
	// Interval, and probes again after OpenTimeout.
	FailureRatio float64
	MinRequests  uint32
	Interval     time.Duration
	OpenTimeout  time.Duration
}

// HermesClient reads the latest price updates from the Hermes REST API.
type HermesClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHermesClient creates a rate-limited, circuit-broken Hermes client.
func NewHermesClient(cfg HermesConfig, m *metrics.Metrics, logger *slog.Logger) *HermesClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://hermes.pyth.network"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	logger = logger.With(slog.String("component", "hermes"))

	st := gobreaker.Settings{
		Name:     "hermes",
		Interval: cfg.Interval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			m.SetBreakerState(name, int(to))
		},
	}

	return &HermesClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesParsed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

type hermesLatest struct {
	Binary struct {
		Encoding string   `json:"encoding"`
		Data     []string `json:"data"`
	} `json:"binary"`
	Parsed []hermesParsed `json:"parsed"`
}

// Latest fetches the newest update for each feed id.
func (c *HermesClient) Latest(ctx context.Context, feedIDs ...string) ([]domain.PriceSample, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("oracle: hermes rate limit: %w", err)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.latest(ctx, feedIDs)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrOracleUnavailable
		}
		return nil, err
	}
	return out.([]domain.PriceSample), nil
}

func (c *HermesClient) latest(ctx context.Context, feedIDs []string) ([]domain.PriceSample, error) {
	q := url.Values{}
	for _, id := range feedIDs {
		q.Add("ids[]", id)
	}
	q.Set("encoding", "hex")
	q.Set("parsed", "true")
	endpoint := c.baseURL + "/v2/updates/price/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: hermes request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oracle: read hermes response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle: hermes status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var payload hermesLatest
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("oracle: decode hermes response: %w", err)
	}

	level := domain.VerificationPartial
	if signedUpdate(payload.Binary.Data) {
		level = domain.VerificationFull
	}

	samples := make([]domain.PriceSample, 0, len(payload.Parsed))
	for _, p := range payload.Parsed {
		s, err := toSample(p.ID, p.Price, level)
		if err != nil {
			c.logger.WarnContext(ctx, "dropping malformed hermes update",
				slog.String("feed_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// signedUpdate reports whether the binary section carries at least one
// accumulator update with the expected magic.
func signedUpdate(data []string) bool {
	if len(data) == 0 {
		return false
	}
	for _, d := range data {
		raw := common.FromHex(d)
		if len(raw) < len(accumulatorMagic) || !bytes.Equal(raw[:len(accumulatorMagic)], accumulatorMagic) {
			return false
		}
	}
	return true
}

func toSample(id string, p hermesPrice, level domain.VerificationLevel) (domain.PriceSample, error) {
	feedID, err := NormalizeFeedID(id)
	if err != nil {
		return domain.PriceSample{}, err
	}
	price, err := strconv.ParseInt(p.Price, 10, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("oracle: price %q: %w", p.Price, err)
	}
	var conf uint64
	if p.Conf != "" {
		if conf, err = strconv.ParseUint(p.Conf, 10, 64); err != nil {
			return domain.PriceSample{}, fmt.Errorf("oracle: conf %q: %w", p.Conf, err)
		}
	}
	return domain.PriceSample{
		FeedID:       feedID,
		Price:        price,
		Conf:         conf,
		Expo:         p.Expo,
		PublishTime:  time.Unix(p.PublishTime, 0).UTC(),
		Verification: level,
	}, nil
}
