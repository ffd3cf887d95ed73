package oracle

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

const btcFeed = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeFeedID(t *testing.T) {
	got, err := NormalizeFeedID("E62DF6C8B4A85FE1A67DB44DC12DE5DB330F7AC66B72DC658AFEDF0F4A415B43")
	require.NoError(t, err)
	assert.Equal(t, btcFeed, got)

	got, err = NormalizeFeedID(btcFeed)
	require.NoError(t, err)
	assert.Equal(t, btcFeed, got)

	_, err = NormalizeFeedID("0x1234")
	assert.ErrorIs(t, err, domain.ErrInvalidPriceFeed)

	_, err = NormalizeFeedID("not-hex")
	assert.ErrorIs(t, err, domain.ErrInvalidPriceFeed)
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	good := domain.PriceSample{
		FeedID:       btcFeed,
		Price:        50000,
		PublishTime:  now.Add(-10 * time.Second),
		Verification: domain.VerificationFull,
	}

	tests := []struct {
		name   string
		mutate func(*domain.PriceSample)
		want   error
	}{
		{"accepted", func(*domain.PriceSample) {}, nil},
		{"exactly max age", func(s *domain.PriceSample) { s.PublishTime = now.Add(-60 * time.Second) }, nil},
		{"stale", func(s *domain.PriceSample) { s.PublishTime = now.Add(-61 * time.Second) }, domain.ErrStalePriceFeed},
		{"partial", func(s *domain.PriceSample) { s.Verification = domain.VerificationPartial }, domain.ErrUnverifiedPriceUpdate},
		{"unverified and stale", func(s *domain.PriceSample) {
			s.Verification = domain.VerificationPartial
			s.PublishTime = now.Add(-time.Hour)
		}, domain.ErrUnverifiedPriceUpdate},
		{"wrong feed", func(s *domain.PriceSample) { s.FeedID = "0xabc" }, domain.ErrInvalidPriceFeed},
		{"non-positive", func(s *domain.PriceSample) { s.Price = 0 }, domain.ErrInvalidPriceFeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			tt.mutate(&s)
			err := Validate(s, btcFeed, now, 60*time.Second)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStatic_GetPrice(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := NewStatic()
	o.SetClock(func() time.Time { return now })

	_, err := o.GetPrice(context.Background(), btcFeed, time.Minute)
	assert.ErrorIs(t, err, domain.ErrStalePriceFeed)

	o.SetPrice(btcFeed, 50000)
	s, err := o.GetPrice(context.Background(), btcFeed, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), s.Price)

	now = now.Add(2 * time.Minute)
	_, err = o.GetPrice(context.Background(), btcFeed, time.Minute)
	assert.ErrorIs(t, err, domain.ErrStalePriceFeed)
}

func TestStatic_Hold(t *testing.T) {
	o := NewStatic()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Hold(ctx, btcFeed, 42, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		s, err := o.GetPrice(context.Background(), btcFeed, time.Second)
		return err == nil && s.Price == 42
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Hold did not return after cancel")
	}
}

func hermesServer(t *testing.T, publish time.Time, signed bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v2/updates/price/latest", r.URL.Path)
		assert.Equal(t, []string{btcFeed}, r.URL.Query()["ids[]"])
		data := "504e4155010000"
		if !signed {
			data = "deadbeef"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"binary":{"encoding":"hex","data":["`+data+`"]},"parsed":[{"id":"`+
			strings.TrimPrefix(btcFeed, "0x")+`","price":{"price":"6500012345678","conf":"2500000","expo":-8,"publish_time":`+
			strconv.FormatInt(publish.Unix(), 10)+`}}]}`)
	}))
}

func TestHermesClient_Latest(t *testing.T) {
	publish := time.Now().Add(-5 * time.Second).Truncate(time.Second)

	t.Run("signed update is fully verified", func(t *testing.T) {
		var hits atomic.Int32
		srv := hermesServer(t, publish, true, &hits)
		defer srv.Close()

		c := NewHermesClient(HermesConfig{BaseURL: srv.URL}, nil, discardLogger())
		samples, err := c.Latest(context.Background(), btcFeed)
		require.NoError(t, err)
		require.Len(t, samples, 1)

		s := samples[0]
		assert.Equal(t, btcFeed, s.FeedID)
		assert.Equal(t, int64(6500012345678), s.Price)
		assert.Equal(t, uint64(2500000), s.Conf)
		assert.Equal(t, int32(-8), s.Expo)
		assert.True(t, s.PublishTime.Equal(publish))
		assert.Equal(t, domain.VerificationFull, s.Verification)
		assert.Equal(t, "65000.12345678", s.Decimal().String())
	})

	t.Run("unsigned update is partial", func(t *testing.T) {
		var hits atomic.Int32
		srv := hermesServer(t, publish, false, &hits)
		defer srv.Close()

		c := NewHermesClient(HermesConfig{BaseURL: srv.URL}, nil, discardLogger())
		samples, err := c.Latest(context.Background(), btcFeed)
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.Equal(t, domain.VerificationPartial, samples[0].Verification)
	})
}

func TestHermesClient_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHermesClient(HermesConfig{
		BaseURL:        srv.URL,
		MinRequests:    2,
		FailureRatio:   0.5,
		RequestsPerSec: 1000,
		Burst:          100,
	}, nil, discardLogger())

	for i := 0; i < 2; i++ {
		_, err := c.Latest(context.Background(), btcFeed)
		require.Error(t, err)
	}
	_, err := c.Latest(context.Background(), btcFeed)
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCachedOracle(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("fresh cache hit skips fetch", func(t *testing.T) {
		var hits atomic.Int32
		srv := hermesServer(t, now, true, &hits)
		defer srv.Close()

		cache := NewMemoryCache()
		require.NoError(t, cache.SetSample(ctx, domain.PriceSample{
			FeedID: btcFeed, Price: 42, PublishTime: now.Add(-time.Second), Verification: domain.VerificationFull,
		}))
		o := NewCachedOracle(cache, NewHermesClient(HermesConfig{BaseURL: srv.URL}, nil, discardLogger()), discardLogger())

		s, err := o.GetPrice(ctx, btcFeed, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(42), s.Price)
		assert.Zero(t, hits.Load())
	})

	t.Run("stale cache falls back to rest and refreshes cache", func(t *testing.T) {
		var hits atomic.Int32
		srv := hermesServer(t, now.Truncate(time.Second), true, &hits)
		defer srv.Close()

		cache := NewMemoryCache()
		require.NoError(t, cache.SetSample(ctx, domain.PriceSample{
			FeedID: btcFeed, Price: 42, PublishTime: now.Add(-time.Hour), Verification: domain.VerificationFull,
		}))
		o := NewCachedOracle(cache, NewHermesClient(HermesConfig{BaseURL: srv.URL}, nil, discardLogger()), discardLogger())

		s, err := o.GetPrice(ctx, strings.TrimPrefix(btcFeed, "0x"), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(6500012345678), s.Price)
		assert.Equal(t, int32(1), hits.Load())

		cached, err := cache.GetSample(ctx, btcFeed)
		require.NoError(t, err)
		assert.Equal(t, int64(6500012345678), cached.Price)
	})

	t.Run("unverified cache entry is rejected without fetch", func(t *testing.T) {
		cache := NewMemoryCache()
		require.NoError(t, cache.SetSample(ctx, domain.PriceSample{
			FeedID: btcFeed, Price: 42, PublishTime: now, Verification: domain.VerificationPartial,
		}))
		o := NewCachedOracle(cache, nil, discardLogger())
		_, err := o.GetPrice(ctx, btcFeed, time.Minute)
		assert.ErrorIs(t, err, domain.ErrUnverifiedPriceUpdate)
	})

	t.Run("empty cache without fetcher is stale", func(t *testing.T) {
		o := NewCachedOracle(NewMemoryCache(), nil, discardLogger())
		_, err := o.GetPrice(ctx, btcFeed, time.Minute)
		assert.ErrorIs(t, err, domain.ErrStalePriceFeed)
	})
}

func TestStream_WritesUpdatesToCache(t *testing.T) {
	upgrader := websocket.Upgrader{}
	vaa := base64.StdEncoding.EncodeToString([]byte{0x50, 0x4e, 0x41, 0x55, 0x01})
	publish := time.Now().Unix()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd streamCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "response", "status": "success"})
		_ = conn.WriteJSON(map[string]any{
			"type": "price_update",
			"price_feed": map[string]any{
				"id":    strings.TrimPrefix(cmd.IDs[0], "0x"),
				"price": map[string]any{"price": "5000000000000", "conf": "1", "expo": -8, "publish_time": publish},
				"vaa":   vaa,
			},
		})
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cache := NewMemoryCache()
	st := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{btcFeed}, cache, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := cache.GetSample(context.Background(), btcFeed)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	s, err := cache.GetSample(context.Background(), btcFeed)
	require.NoError(t, err)
	assert.Equal(t, int64(5000000000000), s.Price)
	assert.Equal(t, domain.VerificationFull, s.Verification)
	assert.False(t, st.LastUpdate().IsZero())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
}
