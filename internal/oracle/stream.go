package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// PricesChannel is the bus channel fresh samples are published on.
const PricesChannel = "prices"

type streamCommand struct {
	Type    string   `json:"type"`
	IDs     []string `json:"ids"`
	Verbose bool     `json:"verbose"`
	Binary  bool     `json:"binary"`
}

type streamMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	PriceFeed *struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
		VAA   string      `json:"vaa"`
	} `json:"price_feed"`
}

// Stream subscribes to the Hermes websocket and writes every update into the
// price cache, republishing it on the signal bus.
type Stream struct {
	wsURL   string
	feedIDs []string
	cache   domain.PriceCache
	bus     domain.SignalBus
	logger  *slog.Logger

	mu       sync.RWMutex
	lastSeen time.Time
}

// NewStream creates a stream for feedIDs. bus may be nil.
func NewStream(wsURL string, feedIDs []string, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:   wsURL,
		feedIDs: feedIDs,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "hermes_stream")),
	}
}

// LastUpdate returns when the stream last delivered a sample.
func (s *Stream) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Run keeps a subscription open until ctx is done, reconnecting with
// exponential backoff.
func (s *Stream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		started := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		s.logger.WarnContext(ctx, "hermes stream disconnected",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (s *Stream) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("oracle: dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var writeMu sync.Mutex
	write := func(mt int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(mt, data)
	}

	sub, _ := json.Marshal(streamCommand{Type: "subscribe", IDs: s.feedIDs, Binary: true})
	if err := write(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("oracle: subscribe: %w", err)
	}
	s.logger.InfoContext(ctx, "hermes stream subscribed", slog.Int("feeds", len(s.feedIDs)))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("oracle: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		s.handle(ctx, raw)
	}
}

func (s *Stream) handle(ctx context.Context, raw []byte) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "response":
		if msg.Status != "success" {
			s.logger.ErrorContext(ctx, "hermes subscription rejected", slog.String("error", msg.Error))
		}
	case "price_update":
		if msg.PriceFeed == nil {
			return
		}
		level := domain.VerificationPartial
		if vaa, err := base64.StdEncoding.DecodeString(msg.PriceFeed.VAA); err == nil && bytes.HasPrefix(vaa, accumulatorMagic) {
			level = domain.VerificationFull
		}
		sample, err := toSample(msg.PriceFeed.ID, msg.PriceFeed.Price, level)
		if err != nil {
			s.logger.DebugContext(ctx, "dropping malformed stream update", slog.String("error", err.Error()))
			return
		}
		s.store(ctx, sample)
	}
}

func (s *Stream) store(ctx context.Context, sample domain.PriceSample) {
	if err := s.cache.SetSample(ctx, sample); err != nil {
		s.logger.WarnContext(ctx, "price cache write failed",
			slog.String("feed_id", sample.FeedID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(sample)
	if err := s.bus.Publish(ctx, PricesChannel, payload); err != nil {
		s.logger.DebugContext(ctx, "price publish failed", slog.String("error", err.Error()))
	}
}
