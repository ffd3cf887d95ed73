package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

func TestOrderStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()

	first, err := s.Create(ctx, domain.Order{Owner: "alice", Side: domain.SideLong, Amount: 10, Status: domain.OrderStatusOpen})
	require.NoError(t, err)
	second, err := s.Create(ctx, domain.Order{Owner: "bob", Side: domain.SideShort, Amount: 5, Status: domain.OrderStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
	assert.False(t, first.CreatedAt.IsZero())

	require.NoError(t, s.UpdateFill(ctx, first.ID, 5, domain.OrderStatusPartiallyFilled))
	require.NoError(t, s.UpdateFill(ctx, second.ID, 5, domain.OrderStatusFilled))
	assert.ErrorIs(t, s.UpdateFill(ctx, 9, 1, domain.OrderStatusFilled), domain.ErrNotFound)

	open, err := s.List(ctx, domain.OrderFilter{Statuses: domain.OpenOrderStatuses})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, uint64(5), open[0].Remaining())

	_, err = s.Cancel(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotOpen)
	cancelled, err := s.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	mine, err := s.List(ctx, domain.OrderFilter{Owner: "bob"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, second.ID, mine[0].ID)

	_, err = s.GetByID(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeStore_NewestFirstAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewTradeStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	var batch []domain.Trade
	for i := 0; i < 3; i++ {
		id, err := s.NextID(ctx)
		require.NoError(t, err)
		batch = append(batch, domain.Trade{ID: id, Amount: 1, ExecutedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	require.NoError(t, s.InsertBatch(ctx, batch))
	require.NoError(t, s.InsertBatch(ctx, batch[:1]))

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].ID)

	since := base.Add(time.Minute)
	recent, err := s.List(ctx, domain.ListOpts{Since: &since, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, uint64(3), recent[0].ID)
}
