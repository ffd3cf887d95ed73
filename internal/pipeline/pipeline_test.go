package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	positions, audit int64
	err              error
	cutoffs          []time.Time
}

func (f *fakeArchiver) ArchivePositions(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.positions, f.err
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.audit, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiver_Run(t *testing.T) {
	fa := &fakeArchiver{positions: 3, audit: 7}
	a := NewArchiver(fa, 30, discard())
	now := time.Date(2026, 5, 31, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ArchiveResult{Cutoff: time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC), Positions: 3, Audit: 7}, res)
	assert.Equal(t, []time.Time{res.Cutoff, res.Cutoff}, fa.cutoffs)
}

func TestArchiver_RunStopsOnPositionError(t *testing.T) {
	boom := errors.New("s3 down")
	fa := &fakeArchiver{err: boom}
	a := NewArchiver(fa, 30, discard())

	_, err := a.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, fa.cutoffs, 1)
}

func TestArchiver_RunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeArchiver{}, 30, discard())
	err := a.RunCron(context.Background(), "not a cron")
	assert.Error(t, err)

	assert.NoError(t, ValidateCron("0 3 * * *"))
	assert.Error(t, ValidateCron("61 * * * *"))
}

func TestArchiver_RunCronStopsOnCancel(t *testing.T) {
	a := NewArchiver(&fakeArchiver{}, 30, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 3 * * *") }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cron did not stop")
	}
}

func TestOrchestrator(t *testing.T) {
	t.Run("clean shutdown", func(t *testing.T) {
		o := NewOrchestrator(discard())
		var started atomic.Int32
		for _, name := range []string{"stream", "monitor"} {
			o.Add(name, func(ctx context.Context) error {
				started.Add(1)
				<-ctx.Done()
				return ctx.Err()
			})
		}
		assert.Equal(t, 2, o.Len())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- o.Run(ctx) }()
		require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, time.Millisecond)
		cancel()
		assert.NoError(t, <-done)
	})

	t.Run("failure cancels siblings", func(t *testing.T) {
		o := NewOrchestrator(discard())
		boom := errors.New("boom")
		o.Add("sibling", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		o.Add("failing", func(context.Context) error { return boom })

		err := o.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failing")
	})
}
