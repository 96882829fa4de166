package memstore

import (
	"context"
	"testing"

	"numix-engine/internal/model"
	"numix-engine/internal/repository/repotest"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepos(t *testing.T) repotest.Repos {
	s := New(nil)
	return repotest.Repos{Tx: s.TxManager(), Events: s.Events(), Tickets: s.Tickets(), Quotas: s.Quotas()}
}

func TestStore_Contract(t *testing.T) {
	repotest.Run(t, newRepos)
}

func TestStore_OfflineReturnsUnavailable(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	e, err := s.Events().Create(ctx, repotest.NewEvent("Offline", "2026-10-14", "21:00"))
	require.NoError(t, err)

	s.SetOffline(true)
	_, err = s.Events().FindByID(ctx, e.ID)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Quotas().Reserve(ctx, e.ID, map[string]int{"07": 1}), apperrors.ErrStoreUnavailable)
	_, err = s.Tickets().ListByEventAndVendor(ctx, e.ID, "ana@numix.test")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	s.SetOffline(false)
	_, err = s.Events().FindByID(ctx, e.ID)
	assert.NoError(t, err)
}

func TestStore_CancelBeforeCommitRollsBack(t *testing.T) {
	s := New(nil)
	e, err := s.Events().Create(context.Background(), repotest.NewEvent("Cancel", "2026-10-14", "21:00"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	err = s.TxManager().WithTx(ctx, func(ctx context.Context) error {
		if err := s.Quotas().Reserve(ctx, e.ID, map[string]int{"07": 3}); err != nil {
			return err
		}
		// 交易內已套用，commit 前被取消
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	q, err := s.Quotas().Get(context.Background(), e.ID, "07")
	require.NoError(t, err)
	assert.Equal(t, 0, q.Sold)
}

func TestStore_CancelledContextIsRejected(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Events().FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	e, err := s.Events().Create(ctx, repotest.NewEvent("Copies", "2026-10-14", "21:00"))
	require.NoError(t, err)

	e.Name = "mutated"
	found, err := s.Events().FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Copies", found.Name)

	ticket, err := s.Tickets().Create(ctx, &model.Ticket{
		ID: uuid.NewString(), EventID: e.ID, ClientName: "Maria", VendorEmail: "ana@numix.test",
		Rows: []model.Row{{Selection: "07", Times: 1}}, Numbers: "07",
	})
	require.NoError(t, err)

	ticket.Rows[0].Times = 99
	stored, err := s.Tickets().FindByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Rows[0].Times)
}
