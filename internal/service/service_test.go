package service

import (
	"context"
	"testing"
	"time"

	"numix-engine/internal/clock"
	"numix-engine/internal/model"
	"numix-engine/internal/repository/memstore"
	"numix-engine/internal/retry"

	"github.com/stretchr/testify/require"
)

const (
	today  = "2026-10-14"
	vendor = "ana@numix.test"
)

// 2026-10-14 12:00 UTC，活動預設 08:00 開始、21:00 結束
var noon = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clk     *clock.Manual
	store   *memstore.Store
	deps    *Deps
	events  EventService
	tickets TicketService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(noon)
	store := memstore.New(clk)
	deps := NewDeps(Deps{
		Tx:       store.TxManager(),
		Events:   store.Events(),
		Tickets:  store.Tickets(),
		Quotas:   store.Quotas(),
		Clock:    clk,
		Location: time.UTC,
		Retry:    retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 2},
	}, Options{})
	return &fixture{
		clk:     clk,
		store:   store,
		deps:    deps,
		events:  NewEventService(deps),
		tickets: NewTicketService(deps),
	}
}

func (f *fixture) createEvent(t *testing.T, name, endTime string) *model.Event {
	t.Helper()
	event, err := f.events.Create(context.Background(), model.CreateEventParams{
		Name:      name,
		StartDate: today,
		EndDate:   today,
		StartTime: "08:00",
		EndTime:   endTime,
	})
	require.NoError(t, err)
	return event
}

func (f *fixture) createTicket(t *testing.T, eventID, client string, rows ...model.Row) *model.Ticket {
	t.Helper()
	ticket, err := f.tickets.Create(context.Background(), CreateTicketInput{
		EventID:     eventID,
		VendorEmail: vendor,
		ClientName:  client,
		Amount:      10,
		Rows:        rows,
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) sold(t *testing.T, eventID, number string) int {
	t.Helper()
	q, err := f.deps.Quotas.Get(context.Background(), eventID, number)
	require.NoError(t, err)
	return q.Sold
}

func (f *fixture) setLimit(t *testing.T, eventID, number string, limit int) {
	t.Helper()
	_, err := f.events.SetNumberLimit(context.Background(), eventID, number, &limit)
	require.NoError(t, err)
}

func row(selection string, times int) model.Row {
	return model.Row{Selection: selection, Times: times}
}

func strPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }
