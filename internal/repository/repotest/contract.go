// Package repotest 以同一組測試驗證 Postgres 與記憶體兩種 repository 實作
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"numix-engine/internal/model"
	"numix-engine/internal/repository"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Repos struct {
	Tx      repository.TxManager
	Events  repository.EventRepository
	Tickets repository.TicketRepository
	Quotas  repository.QuotaRepository
}

// Factory 每個子測試都會取得乾淨的 store
type Factory func(t *testing.T) Repos

func Run(t *testing.T, newRepos Factory) {
	t.Run("EventLifecycle", func(t *testing.T) { testEventLifecycle(t, newRepos(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testListNewestFirst(t, newRepos(t)) })
	t.Run("UpdateKeepsStatus", func(t *testing.T) { testUpdateKeepsStatus(t, newRepos(t)) })
	t.Run("ListByDate", func(t *testing.T) { testListByDate(t, newRepos(t)) })
	t.Run("CloseExpired", func(t *testing.T) { testCloseExpired(t, newRepos(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newRepos(t)) })
	t.Run("Tickets", func(t *testing.T) { testTickets(t, newRepos(t)) })
	t.Run("ExistsDuplicate", func(t *testing.T) { testExistsDuplicate(t, newRepos(t)) })
	t.Run("ReserveWithinLimit", func(t *testing.T) { testReserveWithinLimit(t, newRepos(t)) })
	t.Run("ReserveIsAllOrNothing", func(t *testing.T) { testReserveAllOrNothing(t, newRepos(t)) })
	t.Run("ReleaseClampsAtZero", func(t *testing.T) { testReleaseClamps(t, newRepos(t)) })
	t.Run("InvalidQuantities", func(t *testing.T) { testInvalidQuantities(t, newRepos(t)) })
	t.Run("SetLimit", func(t *testing.T) { testSetLimit(t, newRepos(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newRepos(t)) })
	t.Run("ConcurrentReserve", func(t *testing.T) { testConcurrentReserve(t, newRepos(t)) })
}

func NewEvent(name, endDate, endTime string) *model.Event {
	return &model.Event{
		ID:        uuid.NewString(),
		Name:      name,
		StartDate: endDate,
		EndDate:   endDate,
		StartTime: "08:00",
		EndTime:   endTime,
		Active:    true,
		Status:    model.EventStatusActive,
		MinNumber: model.DefaultMinNumber,
		MaxNumber: model.DefaultMaxNumber,
	}
}

func createEvent(t *testing.T, r Repos, e *model.Event) *model.Event {
	t.Helper()
	created, err := r.Events.Create(context.Background(), e)
	require.NoError(t, err)
	return created
}

func createTicket(t *testing.T, r Repos, eventID, vendor, client string, amount float64, rows []model.Row) *model.Ticket {
	t.Helper()
	deltas := model.Consolidate(rows, nil)
	created, err := r.Tickets.Create(context.Background(), &model.Ticket{
		ID:          uuid.NewString(),
		EventID:     eventID,
		ClientName:  client,
		VendorEmail: vendor,
		Amount:      amount,
		Rows:        model.RowsFromDeltas(deltas),
		Numbers:     model.NumbersSummary(deltas),
	})
	require.NoError(t, err)
	return created
}

func sold(t *testing.T, r Repos, eventID, number string) int {
	t.Helper()
	q, err := r.Quotas.Get(context.Background(), eventID, number)
	require.NoError(t, err)
	return q.Sold
}

func intPtr(v int) *int { return &v }

func testEventLifecycle(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Lotto Noche", "2026-10-14", "21:00"))

	found, err := r.Events.FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lotto Noche", found.Name)
	assert.Equal(t, "2026-10-14", found.EndDate)
	assert.Equal(t, "21:00", found.EndTime)
	assert.Equal(t, model.EventStatusActive, found.Status)
	assert.Nil(t, found.AwardedNumbers)

	_, err = r.Events.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)

	awardedAt := time.Date(2026, 10, 14, 21, 5, 0, 0, time.UTC)
	awarded, err := r.Events.Award(ctx, e.ID, model.AwardNumbers{
		FirstPrize: "07", SecondPrize: "12", ThirdPrize: "45", AwardedAt: awardedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusClosedAwarded, awarded.Status)
	require.NotNil(t, awarded.AwardedNumbers)
	assert.Equal(t, "07", awarded.AwardedNumbers.FirstPrize)
	assert.Equal(t, "45", awarded.AwardedNumbers.ThirdPrize)
	assert.True(t, awardedAt.Equal(awarded.AwardedNumbers.AwardedAt))

	// 已開獎不能再開一次
	_, err = r.Events.Award(ctx, e.ID, model.AwardNumbers{FirstPrize: "01", SecondPrize: "02", ThirdPrize: "03", AwardedAt: awardedAt})
	assert.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

	_, err = r.Events.Award(ctx, uuid.NewString(), model.AwardNumbers{FirstPrize: "01", AwardedAt: awardedAt})
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}

func testListByDate(t *testing.T, r Repos) {
	ctx := context.Background()
	late := createEvent(t, r, NewEvent("Late", "2026-10-14", "21:00"))
	early := createEvent(t, r, NewEvent("Early", "2026-10-14", "13:00"))
	createEvent(t, r, NewEvent("Tomorrow", "2026-10-15", "13:00"))

	inactive := NewEvent("Paused", "2026-10-14", "15:00")
	inactive.Active = false
	createEvent(t, r, inactive)

	_, err := r.Events.Award(ctx, late.ID, model.AwardNumbers{FirstPrize: "01", SecondPrize: "02", ThirdPrize: "03", AwardedAt: time.Now()})
	require.NoError(t, err)

	active, err := r.Events.ListActiveOnDate(ctx, "2026-10-14")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, early.ID, active[0].ID)

	closed, err := r.Events.ListClosedByEndDate(ctx, "2026-10-14")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, late.ID, closed[0].ID)

	none, err := r.Events.ListClosedByEndDate(ctx, "2026-10-13")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCloseExpired(t *testing.T, r Repos) {
	ctx := context.Background()
	expired := createEvent(t, r, NewEvent("Expired", "2026-10-14", "13:00"))
	exact := createEvent(t, r, NewEvent("Exact", "2026-10-14", "14:00"))
	open := createEvent(t, r, NewEvent("Open", "2026-10-14", "21:00"))

	now := time.Date(2026, 10, 14, 14, 0, 0, 0, time.UTC)
	ids, err := r.Events.CloseExpired(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{expired.ID, exact.ID}, ids)

	for _, id := range []string{expired.ID, exact.ID} {
		e, err := r.Events.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.EventStatusClosedNotAwarded, e.Status)
	}
	e, err := r.Events.FindByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusActive, e.Status)

	// 再跑一次不會重複關閉
	ids, err = r.Events.CloseExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testDeleteCascades(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Doomed", "2026-10-14", "21:00"))
	ticket := createTicket(t, r, e.ID, "ana@numix.test", "Maria", 10, []model.Row{{Selection: "07", Times: 2}})
	require.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 2}))

	require.NoError(t, r.Events.Delete(ctx, e.ID))

	_, err := r.Events.FindByID(ctx, e.ID)
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
	_, err = r.Tickets.FindByID(ctx, ticket.ID)
	assert.ErrorIs(t, err, apperrors.ErrTicketNotFound)
	quotas, err := r.Quotas.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, quotas)

	assert.ErrorIs(t, r.Events.Delete(ctx, e.ID), apperrors.ErrEventNotFound)
}

func testTickets(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Tarde", "2026-10-14", "18:00"))

	first := createTicket(t, r, e.ID, "ana@numix.test", "Maria", 10, []model.Row{{Selection: "07", Times: 2}})
	time.Sleep(2 * time.Millisecond)
	second := createTicket(t, r, e.ID, "ana@numix.test", "Jose", 5, []model.Row{{Selection: "12", Times: 1}})
	createTicket(t, r, e.ID, "luis@numix.test", "Pedro", 5, []model.Row{{Selection: "12", Times: 1}})

	found, err := r.Tickets.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Row{{Selection: "07", Times: 2}}, found.Rows)
	assert.Equal(t, "07", found.Numbers)

	// 比對 email 不分大小寫，新的在前
	list, err := r.Tickets.ListByEventAndVendor(ctx, e.ID, "ANA@numix.test")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	first.ClientName = "Maria Elena"
	first.Amount = 20
	first.Rows = []model.Row{{Selection: "07", Times: 1}, {Selection: "30", Times: 3}}
	first.Numbers = "07,30"
	updated, err := r.Tickets.Update(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Maria Elena", updated.ClientName)
	assert.Equal(t, 20.0, updated.Amount)
	assert.Equal(t, "07,30", updated.Numbers)
	assert.Len(t, updated.Rows, 2)

	locked, err := r.Tickets.FindByIDForUpdate(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maria Elena", locked.ClientName)

	require.NoError(t, r.Tickets.Delete(ctx, first.ID))
	assert.ErrorIs(t, r.Tickets.Delete(ctx, first.ID), apperrors.ErrTicketNotFound)
	_, err = r.Tickets.Update(ctx, first)
	assert.ErrorIs(t, err, apperrors.ErrTicketNotFound)

	_, err = r.Tickets.Create(ctx, &model.Ticket{ID: uuid.NewString(), EventID: uuid.NewString(), ClientName: "x", VendorEmail: "ana@numix.test"})
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}

func testExistsDuplicate(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Dup", "2026-10-14", "18:00"))
	createTicket(t, r, e.ID, "ana@numix.test", "Maria", 10, []model.Row{{Selection: "07", Times: 2}})

	recent := time.Now().Add(-time.Minute)
	dup, err := r.Tickets.ExistsDuplicate(ctx, e.ID, "Maria", 10, "07", recent)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = r.Tickets.ExistsDuplicate(ctx, e.ID, "Maria", 11, "07", recent)
	require.NoError(t, err)
	assert.False(t, dup)

	// 視窗之外的票券不算重複
	dup, err = r.Tickets.ExistsDuplicate(ctx, e.ID, "Maria", 10, "07", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, dup)
}

func testReserveWithinLimit(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Limit", "2026-10-14", "18:00"))

	_, err := r.Quotas.SetLimit(ctx, e.ID, "07", intPtr(5))
	require.NoError(t, err)
	require.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 3}))

	err = r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 3})
	var capErr *apperrors.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
	assert.Equal(t, "07", capErr.Number)
	assert.Equal(t, 3, capErr.Requested)
	assert.Equal(t, 2, capErr.Remaining)
	assert.Equal(t, 3, sold(t, r, e.ID, "07"))

	require.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 2}))
	assert.Equal(t, 5, sold(t, r, e.ID, "07"))

	err = r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 1})
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 0, capErr.Remaining)

	// 沒有上限的號碼不受限制
	require.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"12": 1000}))
	assert.Equal(t, 1000, sold(t, r, e.ID, "12"))

	// 沒有任何紀錄的號碼視為 0
	assert.Equal(t, 0, sold(t, r, e.ID, "99"))

	err = r.Quotas.Reserve(ctx, uuid.NewString(), map[string]int{"07": 1})
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}

func testReserveAllOrNothing(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Atomic", "2026-10-14", "18:00"))

	_, err := r.Quotas.SetLimit(ctx, e.ID, "45", intPtr(1))
	require.NoError(t, err)

	// "07" 排序在前會先被保留，"45" 失敗後一起還原
	err = r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 2, "45": 2})
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)
	assert.Equal(t, 0, sold(t, r, e.ID, "07"))
	assert.Equal(t, 0, sold(t, r, e.ID, "45"))

	// Apply 同時保留與釋放
	require.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 3}))
	require.NoError(t, r.Quotas.Apply(ctx, e.ID, map[string]int{"07": -1, "30": 2}))
	assert.Equal(t, 2, sold(t, r, e.ID, "07"))
	assert.Equal(t, 2, sold(t, r, e.ID, "30"))

	quotas, err := r.Quotas.ListByEvent(ctx, e.ID)
	require.NoError(t, err)
	numbers := make([]string, 0, len(quotas))
	for _, q := range quotas {
		numbers = append(numbers, q.Number)
	}
	assert.Equal(t, []string{"07", "30", "45"}, numbers)
}

func testReleaseClamps(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Release", "2026-10-14", "18:00"))

	require.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 2}))
	require.NoError(t, r.Quotas.Release(ctx, e.ID, map[string]int{"07": 5}))
	assert.Equal(t, 0, sold(t, r, e.ID, "07"))

	// 釋放從未保留的號碼不會建立紀錄
	require.NoError(t, r.Quotas.Release(ctx, e.ID, map[string]int{"12": 1}))
	assert.Equal(t, 0, sold(t, r, e.ID, "12"))
}

func testInvalidQuantities(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Invalid", "2026-10-14", "18:00"))

	assert.ErrorIs(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 0}), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": -1}), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, r.Quotas.Release(ctx, e.ID, map[string]int{"07": 0}), apperrors.ErrInvalidInput)
	assert.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{}))
}

func testSetLimit(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("SetLimit", "2026-10-14", "18:00"))
	require.NoError(t, r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 4}))

	_, err := r.Quotas.SetLimit(ctx, e.ID, "07", intPtr(3))
	assert.ErrorIs(t, err, apperrors.ErrLimitBelowSold)

	q, err := r.Quotas.SetLimit(ctx, e.ID, "07", intPtr(4))
	require.NoError(t, err)
	assert.Equal(t, 4, q.Sold)
	require.NotNil(t, q.Limit)
	assert.Equal(t, 4, *q.Limit)
	assert.Equal(t, 0, q.Remaining())

	q, err = r.Quotas.SetLimit(ctx, e.ID, "07", nil)
	require.NoError(t, err)
	assert.Nil(t, q.Limit)

	_, err = r.Quotas.SetLimit(ctx, uuid.NewString(), "07", intPtr(3))
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}

func testTxRollback(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Rollback", "2026-10-14", "18:00"))
	boom := errors.New("boom")

	err := r.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 2}); err != nil {
			return err
		}
		if _, err := r.Tickets.Create(ctx, &model.Ticket{
			ID:          uuid.NewString(),
			EventID:     e.ID,
			ClientName:  "Maria",
			VendorEmail: "ana@numix.test",
			Amount:      10,
			Rows:        []model.Row{{Selection: "07", Times: 2}},
			Numbers:     "07",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 0, sold(t, r, e.ID, "07"))
	list, err := r.Tickets.ListByEventAndVendor(ctx, e.ID, "ana@numix.test")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, r.Tx.WithTx(ctx, func(ctx context.Context) error {
		return r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 2})
	}))
	assert.Equal(t, 2, sold(t, r, e.ID, "07"))
}

func testConcurrentReserve(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Rush", "2026-10-14", "18:00"))
	const capacity, requests = 20, 60

	_, err := r.Quotas.SetLimit(ctx, e.ID, "07", intPtr(capacity))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
		failures []error
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Quotas.Reserve(ctx, e.ID, map[string]int{"07": 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, apperrors.ErrCapacityExceeded):
				rejected++
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, capacity, success)
	assert.Equal(t, requests-capacity, rejected)
	assert.Equal(t, capacity, sold(t, r, e.ID, "07"))
}

func testListNewestFirst(t *testing.T, r Repos) {
	ctx := context.Background()

	events, err := r.Events.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	first := createEvent(t, r, NewEvent("Mañana", "2026-10-14", "12:00"))
	second := createEvent(t, r, NewEvent("Tarde", "2026-10-13", "16:00"))
	third := createEvent(t, r, NewEvent("Noche", "2026-10-15", "21:00"))

	events, err = r.Events.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID},
		[]string{events[0].ID, events[1].ID, events[2].ID})

	require.NoError(t, r.Events.Delete(ctx, second.ID))
	events, err = r.Events.List(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func testUpdateKeepsStatus(t *testing.T, r Repos) {
	ctx := context.Background()
	e := createEvent(t, r, NewEvent("Lotto Noche", "2026-10-14", "21:00"))

	edit := *e
	edit.Name = "Lotto Nocturno"
	edit.EndTime = "22:30"
	edit.Active = false
	edit.RepeatDaily = true
	edit.MinNumber = 10
	edit.MaxNumber = 60
	edit.ExcludedNumbers = "13,22"
	// 狀態欄位不在可編輯範圍
	edit.Status = model.EventStatusClosedAwarded

	updated, err := r.Events.Update(ctx, &edit)
	require.NoError(t, err)
	assert.Equal(t, "Lotto Nocturno", updated.Name)
	assert.Equal(t, "22:30", updated.EndTime)
	assert.False(t, updated.Active)
	assert.True(t, updated.RepeatDaily)
	assert.Equal(t, 10, updated.MinNumber)
	assert.Equal(t, 60, updated.MaxNumber)
	assert.Equal(t, "13,22", updated.ExcludedNumbers)
	assert.Equal(t, model.EventStatusActive, updated.Status)
	assert.Nil(t, updated.AwardedNumbers)

	found, err := r.Events.FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lotto Nocturno", found.Name)
	assert.Equal(t, model.EventStatusActive, found.Status)

	// 開獎後編輯名稱，開獎結果不變
	awardedAt := time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)
	_, err = r.Events.Award(ctx, e.ID, model.AwardNumbers{
		FirstPrize: "11", SecondPrize: "12", ThirdPrize: "14", AwardedAt: awardedAt,
	})
	require.NoError(t, err)

	edit = *found
	edit.Name = "Lotto Final"
	edit.Status = model.EventStatusActive
	edit.AwardedNumbers = nil
	updated, err = r.Events.Update(ctx, &edit)
	require.NoError(t, err)
	assert.Equal(t, "Lotto Final", updated.Name)
	assert.Equal(t, model.EventStatusClosedAwarded, updated.Status)
	require.NotNil(t, updated.AwardedNumbers)
	assert.Equal(t, "11", updated.AwardedNumbers.FirstPrize)

	missing := *e
	missing.ID = uuid.NewString()
	_, err = r.Events.Update(ctx, &missing)
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
}
