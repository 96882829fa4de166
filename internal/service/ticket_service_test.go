package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"numix-engine/internal/model"
	"numix-engine/internal/notify"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketService_CreateConsolidatesRows(t *testing.T) {
	f := newFixture(t)
	event := f.createEvent(t, "Noche", "21:00")

	ticket := f.createTicket(t, event.ID, "Maria", row("7", 2), row("07", 1), row("12", 1), row("45", 0), row("abc", 3))

	assert.Equal(t, []model.Row{row("07", 3), row("12", 1)}, ticket.Rows)
	assert.Equal(t, "07,12", ticket.Numbers)
	assert.Equal(t, vendor, ticket.VendorEmail)
	assert.Equal(t, 3, f.sold(t, event.ID, "07"))
	assert.Equal(t, 1, f.sold(t, event.ID, "12"))
	assert.Equal(t, 0, f.sold(t, event.ID, "45"))
}

func TestTicketService_CreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	event := f.createEvent(t, "Noche", "21:00")
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateTicketInput
		want  error
	}{
		{"missing vendor", CreateTicketInput{EventID: event.ID, ClientName: "Maria", Rows: []model.Row{row("07", 1)}}, apperrors.ErrInvalidInput},
		{"missing client", CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "  ", Rows: []model.Row{row("07", 1)}}, apperrors.ErrInvalidInput},
		{"negative amount", CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Maria", Amount: -1, Rows: []model.Row{row("07", 1)}}, apperrors.ErrInvalidInput},
		{"no rows", CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Maria"}, apperrors.ErrNoValidSelections},
		{"unknown event", CreateTicketInput{EventID: "missing", VendorEmail: vendor, ClientName: "Maria", Rows: []model.Row{row("07", 1)}}, apperrors.ErrEventNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tickets.Create(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTicketService_CreateSkipsExcludedAndOutOfRangeNumbers(t *testing.T) {
	f := newFixture(t)
	minN, maxN := 10, 50
	event, err := f.events.Create(context.Background(), model.CreateEventParams{
		Name: "Rango", StartDate: today, EndDate: today, StartTime: "08:00", EndTime: "21:00",
		MinNumber: &minN, MaxNumber: &maxN, ExcludedNumbers: "13",
	})
	require.NoError(t, err)

	_, err = f.tickets.Create(context.Background(), CreateTicketInput{
		EventID: event.ID, VendorEmail: vendor, ClientName: "Maria",
		Rows: []model.Row{row("05", 1), row("13", 2), row("51", 1)},
	})
	assert.ErrorIs(t, err, apperrors.ErrNoValidSelections)

	ticket := f.createTicket(t, event.ID, "Maria", row("05", 1), row("13", 2), row("20", 1))
	assert.Equal(t, "20", ticket.Numbers)
	assert.Equal(t, 0, f.sold(t, event.ID, "13"))
}

func TestTicketService_CapacityPerNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Noche", "21:00")
	f.setLimit(t, event.ID, "07", 5)
	f.createTicket(t, event.ID, "Maria", row("07", 3))

	_, err := f.tickets.Create(ctx, CreateTicketInput{
		EventID: event.ID, VendorEmail: vendor, ClientName: "Jose", Amount: 10, Rows: []model.Row{row("07", 3)},
	})
	var capErr *apperrors.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "07", capErr.Number)
	assert.Equal(t, 3, capErr.Requested)
	assert.Equal(t, 2, capErr.Remaining)
	assert.Equal(t, 3, f.sold(t, event.ID, "07"))

	f.createTicket(t, event.ID, "Jose", row("07", 2))
	assert.Equal(t, 5, f.sold(t, event.ID, "07"))

	_, err = f.tickets.Create(ctx, CreateTicketInput{
		EventID: event.ID, VendorEmail: vendor, ClientName: "Pedro", Amount: 10, Rows: []model.Row{row("07", 1)},
	})
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 0, capErr.Remaining)
}

func TestTicketService_FailedCreateLeavesAllCountersUnchanged(t *testing.T) {
	f := newFixture(t)
	event := f.createEvent(t, "Noche", "21:00")
	f.setLimit(t, event.ID, "45", 1)

	_, err := f.tickets.Create(context.Background(), CreateTicketInput{
		EventID: event.ID, VendorEmail: vendor, ClientName: "Maria", Amount: 10,
		Rows: []model.Row{row("07", 2), row("45", 2)},
	})
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)

	assert.Equal(t, 0, f.sold(t, event.ID, "07"))
	assert.Equal(t, 0, f.sold(t, event.ID, "45"))
	list, err := f.tickets.GetTicketsForVendor(context.Background(), event.ID, vendor)
	require.NoError(t, err)
	assert.Empty(t, list.Tickets)
}

func TestTicketService_ConcurrentCreatesNeverOversell(t *testing.T) {
	f := newFixture(t)
	event := f.createEvent(t, "Rush", "21:00")
	const capacity, requests = 10, 50
	f.setLimit(t, event.ID, "07", capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.tickets.Create(context.Background(), CreateTicketInput{
				EventID:     event.ID,
				VendorEmail: vendor,
				ClientName:  fmt.Sprintf("client-%d", i),
				Amount:      1,
				Rows:        []model.Row{row("07", 1)},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if errors.Is(err, apperrors.ErrCapacityExceeded) {
				rejected++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	t.Logf("success=%d rejected=%d", success, rejected)
	assert.Equal(t, capacity, success)
	assert.Equal(t, requests-capacity, rejected)
	assert.Equal(t, capacity, f.sold(t, event.ID, "07"))
}

func TestTicketService_ExpiredEventRejectsWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Tarde", "13:00")
	ticket := f.createTicket(t, event.ID, "Maria", row("07", 1))

	f.clk.Set(time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC))

	// 尚未 sweep 時也以結束時間判斷
	_, err := f.tickets.Create(ctx, CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Jose", Rows: []model.Row{row("07", 1)}})
	assert.ErrorIs(t, err, apperrors.ErrEventClosed)

	closed, err := f.events.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	_, err = f.tickets.Create(ctx, CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Jose", Rows: []model.Row{row("07", 1)}})
	assert.ErrorIs(t, err, apperrors.ErrEventClosed)
	_, err = f.tickets.Update(ctx, UpdateTicketInput{TicketID: ticket.ID, EventID: event.ID, VendorEmail: vendor, Rows: []model.Row{row("12", 1)}})
	assert.ErrorIs(t, err, apperrors.ErrEventClosed)
	assert.ErrorIs(t, f.tickets.Delete(ctx, ticket.ID, event.ID, vendor), apperrors.ErrEventClosed)
	assert.Equal(t, 1, f.sold(t, event.ID, "07"))
}

func TestTicketService_DuplicateWithinTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Noche", "21:00")
	input := CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Maria", Amount: 10, Rows: []model.Row{row("07", 2)}}

	_, err := f.tickets.Create(ctx, input)
	require.NoError(t, err)

	f.clk.Advance(5 * time.Second)
	_, err = f.tickets.Create(ctx, input)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateSubmission)
	assert.Equal(t, 2, f.sold(t, event.ID, "07"))

	// 號碼順序不同仍視為相同內容
	_, err = f.tickets.Create(ctx, CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Maria", Amount: 10, Rows: []model.Row{row("7", 1), row("07", 1)}})
	assert.ErrorIs(t, err, apperrors.ErrDuplicateSubmission)

	f.clk.Advance(6 * time.Second)
	_, err = f.tickets.Create(ctx, input)
	assert.NoError(t, err)
	assert.Equal(t, 4, f.sold(t, event.ID, "07"))
}

func TestTicketService_UpdateAdjustsQuotaByDifference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Noche", "21:00")
	ticket := f.createTicket(t, event.ID, "Maria", row("07", 3), row("12", 1))

	// 相同內容不改變配額
	same, err := f.tickets.Update(ctx, UpdateTicketInput{
		TicketID: ticket.ID, EventID: event.ID, VendorEmail: vendor, Rows: []model.Row{row("12", 1), row("07", 3)},
	})
	require.NoError(t, err)
	assert.Equal(t, ticket.Numbers, same.Numbers)
	assert.Equal(t, 3, f.sold(t, event.ID, "07"))
	assert.Equal(t, 1, f.sold(t, event.ID, "12"))

	updated, err := f.tickets.Update(ctx, UpdateTicketInput{
		TicketID: ticket.ID, EventID: event.ID, VendorEmail: vendor,
		ClientName: strPtr("Maria Elena"),
		Rows:       []model.Row{row("07", 1), row("30", 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, "Maria Elena", updated.ClientName)
	assert.Equal(t, 10.0, updated.Amount)
	assert.Equal(t, "07,30", updated.Numbers)
	assert.Equal(t, 1, f.sold(t, event.ID, "07"))
	assert.Equal(t, 0, f.sold(t, event.ID, "12"))
	assert.Equal(t, 2, f.sold(t, event.ID, "30"))

	// 只改金額，號碼不變
	amount := 25.5
	updated, err = f.tickets.Update(ctx, UpdateTicketInput{TicketID: ticket.ID, EventID: event.ID, VendorEmail: vendor, Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, 25.5, updated.Amount)
	assert.Equal(t, "07,30", updated.Numbers)
	assert.Equal(t, 1, f.sold(t, event.ID, "07"))
}

func TestTicketService_UpdateRejectedLeavesTicketUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Noche", "21:00")
	ticket := f.createTicket(t, event.ID, "Maria", row("07", 2))
	f.setLimit(t, event.ID, "45", 1)

	_, err := f.tickets.Update(ctx, UpdateTicketInput{
		TicketID: ticket.ID, EventID: event.ID, VendorEmail: vendor, Rows: []model.Row{row("12", 1), row("45", 2)},
	})
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)

	_, err = f.tickets.Update(ctx, UpdateTicketInput{
		TicketID: ticket.ID, EventID: event.ID, VendorEmail: vendor, Rows: []model.Row{},
	})
	assert.ErrorIs(t, err, apperrors.ErrNoValidSelections)

	assert.Equal(t, 2, f.sold(t, event.ID, "07"))
	assert.Equal(t, 0, f.sold(t, event.ID, "12"))
	assert.Equal(t, 0, f.sold(t, event.ID, "45"))
	stored, err := f.deps.Tickets.FindByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "07", stored.Numbers)
}

func TestTicketService_OwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Noche", "21:00")
	other := f.createEvent(t, "Otra", "21:00")
	ticket := f.createTicket(t, event.ID, "Maria", row("07", 2))

	_, err := f.tickets.Update(ctx, UpdateTicketInput{TicketID: ticket.ID, EventID: event.ID, VendorEmail: "luis@numix.test", Rows: []model.Row{row("12", 1)}})
	assert.ErrorIs(t, err, apperrors.ErrOwnershipViolation)
	assert.ErrorIs(t, f.tickets.Delete(ctx, ticket.ID, event.ID, "luis@numix.test"), apperrors.ErrOwnershipViolation)

	// 票券不屬於路徑上的活動
	assert.ErrorIs(t, f.tickets.Delete(ctx, ticket.ID, other.ID, vendor), apperrors.ErrTicketNotFound)
	assert.ErrorIs(t, f.tickets.Delete(ctx, "missing", event.ID, vendor), apperrors.ErrTicketNotFound)

	// email 大小寫不影響擁有權
	_, err = f.tickets.Update(ctx, UpdateTicketInput{TicketID: ticket.ID, EventID: event.ID, VendorEmail: "ANA@numix.test", Amount: new(float64)})
	assert.NoError(t, err)
	assert.Equal(t, 2, f.sold(t, event.ID, "07"))
}

func TestTicketService_DeleteReleasesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Noche", "21:00")
	f.setLimit(t, event.ID, "07", 2)
	ticket := f.createTicket(t, event.ID, "Maria", row("07", 2), row("12", 1))

	require.NoError(t, f.tickets.Delete(ctx, ticket.ID, event.ID, vendor))
	assert.Equal(t, 0, f.sold(t, event.ID, "07"))
	assert.Equal(t, 0, f.sold(t, event.ID, "12"))

	// 釋放後可以再賣
	f.createTicket(t, event.ID, "Jose", row("07", 2))
	assert.ErrorIs(t, f.tickets.Delete(ctx, ticket.ID, event.ID, vendor), apperrors.ErrTicketNotFound)
}

func TestTicketService_GetTicketsServesStaleSnapshotWhenStoreIsDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.createEvent(t, "Noche", "21:00")
	first := f.createTicket(t, event.ID, "Maria", row("07", 1))
	f.clk.Advance(time.Second)
	second := f.createTicket(t, event.ID, "Jose", row("12", 1))

	list, err := f.tickets.GetTicketsForVendor(ctx, event.ID, vendor)
	require.NoError(t, err)
	assert.False(t, list.Stale)
	require.Len(t, list.Tickets, 2)
	assert.Equal(t, second.ID, list.Tickets[0].ID)
	assert.Equal(t, first.ID, list.Tickets[1].ID)

	f.store.SetOffline(true)

	// 快取未過期時仍由快取回答
	list, err = f.tickets.GetTicketsForVendor(ctx, event.ID, vendor)
	require.NoError(t, err)
	assert.False(t, list.Stale)

	f.clk.Advance(6 * time.Second)
	list, err = f.tickets.GetTicketsForVendor(ctx, event.ID, vendor)
	require.NoError(t, err)
	assert.True(t, list.Stale)
	assert.Len(t, list.Tickets, 2)

	// 沒有快照的販售員收到 unavailable
	_, err = f.tickets.GetTicketsForVendor(ctx, event.ID, "luis@numix.test")
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	_, err = f.tickets.Create(ctx, CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Pedro", Rows: []model.Row{row("30", 1)}})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	f.store.SetOffline(false)
	list, err = f.tickets.GetTicketsForVendor(ctx, event.ID, vendor)
	require.NoError(t, err)
	assert.False(t, list.Stale)
}

func TestTicketService_CancelledRequest(t *testing.T) {
	f := newFixture(t)
	event := f.createEvent(t, "Noche", "21:00")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.tickets.Create(ctx, CreateTicketInput{EventID: event.ID, VendorEmail: vendor, ClientName: "Maria", Rows: []model.Row{row("07", 1)}})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = f.tickets.GetTicketsForVendor(ctx, event.ID, vendor)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.sold(t, event.ID, "07"))
}

func TestTicketService_WritesPublishChangeSignals(t *testing.T) {
	f := newFixture(t)
	event := f.createEvent(t, "Noche", "21:00")

	quotas := f.deps.Hub.Subscribe(notify.KindQuotas, event.ID)
	defer quotas.Unsubscribe()
	tickets := f.deps.Hub.Subscribe(notify.KindTickets, TicketsKey(event.ID, vendor))
	defer tickets.Unsubscribe()

	f.createTicket(t, event.ID, "Maria", row("07", 1))

	for _, sub := range []*notify.Subscription{quotas, tickets} {
		select {
		case sig := <-sub.C:
			assert.NotEqual(t, notify.KindResync, sig.Kind)
		case <-time.After(time.Second):
			t.Fatal("expected change signal")
		}
	}
}
