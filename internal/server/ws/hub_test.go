package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newChanBus() *chanBus { return &chanBus{subs: make(map[string]chan []byte)} }

func (b *chanBus) ch(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.subs[name]
	if !ok {
		c = make(chan []byte, 8)
		b.subs[name] = c
	}
	return c
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.ch(channel) <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.ch(channel), nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T) (*Hub, *chanBus, *websocket.Conn) {
	t.Helper()
	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:     "api",
		Channels: []string{"positions", "prices"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return hub, bus, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHub_HelloAndRelay(t *testing.T) {
	hub, bus, conn := startHub(t)

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.Contains(t, string(hello.Data), `"mode":"api"`)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "positions", []byte(`{"event":"position_created"}`)))
	f := readFrame(t, conn)
	assert.Equal(t, "event", f.Type)
	assert.Equal(t, "positions", f.Channel)
	assert.JSONEq(t, `{"event":"position_created"}`, string(f.Data))
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, bus, conn := startHub(t)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMsg{Action: "unsubscribe", Channels: []string{"prices", "bogus"}}))
	ack := readFrame(t, conn)
	assert.Equal(t, "subscriptions", ack.Type)
	var subs struct{ Channels []string }
	require.NoError(t, json.Unmarshal(ack.Data, &subs))
	assert.Equal(t, []string{"positions"}, subs.Channels)

	require.NoError(t, bus.Publish(context.Background(), "prices", []byte(`{"price":1}`)))
	require.NoError(t, bus.Publish(context.Background(), "positions", []byte(`{"event":"position_closed"}`)))
	f := readFrame(t, conn)
	assert.Equal(t, "positions", f.Channel)
}
