package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name  string
	err   error
	calls int
}

func (f *fakeSender) Send(context.Context, string, string) error {
	f.calls++
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"liquidation_risk", " position_liquidated "}, Options{}, discard())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "position_closed", "t", "m"))
	assert.Zero(t, s.calls)
	require.NoError(t, n.Notify(ctx, "position_liquidated", "t", "m"))
	require.NoError(t, n.NotifyAll(ctx, "t", "m"))
	assert.Equal(t, 2, s.calls)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, Options{}, discard()).Enabled())
}

func TestNotifier_OneFailureDoesNotBlockOthers(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeSender{name: "bad", err: boom}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, Options{}, discard())

	err := n.Notify(context.Background(), "any", "t", "m")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.calls)
}

func TestNotifier_BreakerOpens(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad}, nil, Options{BreakerFailures: 2, BreakerTimeout: time.Hour}, discard())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Error(t, n.NotifyAll(ctx, "t", "m"))
	}
	err := n.NotifyAll(ctx, "t", "m")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, bad.calls)
}

func TestNotifier_Throttles(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, Options{PerMinute: 2}, discard())
	ctx := context.Background()

	require.NoError(t, n.NotifyAll(ctx, "t", "m"))
	require.NoError(t, n.NotifyAll(ctx, "t", "m"))
	assert.ErrorIs(t, n.NotifyAll(ctx, "t", "m"), ErrThrottled)
	assert.Equal(t, 2, s.calls)
}

func TestSenders(t *testing.T) {
	var got map[string]string
	var path string
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()
	ctx := context.Background()

	d := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, d.Send(ctx, "Position closed", "alice:1"))
	assert.Equal(t, "/hook", path)
	assert.Equal(t, "**Position closed**\nalice:1", got["content"])

	tg := NewTelegramSender("tok", "42")
	tg.baseURL = srv.URL
	status = http.StatusOK
	require.NoError(t, tg.Send(ctx, "Liquidation risk", "alice:2"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Liquidation risk*\nalice:2", got["text"])

	status = http.StatusBadRequest
	err := tg.Send(ctx, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
