package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"numix-engine/internal/model"
	"numix-engine/internal/notify"
	apperrors "numix-engine/pkg/app_errors"
	"numix-engine/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventService interface {
	Create(ctx context.Context, params model.CreateEventParams) (*model.Event, error)
	Get(ctx context.Context, id string) (*model.Event, error)
	// Update 修改可編輯欄位，驗證規則與 Create 相同；不會改變狀態與開獎號碼
	Update(ctx context.Context, id string, params model.UpdateEventParams) (*model.Event, error)
	// Delete 一併刪除票券與配額
	Delete(ctx context.Context, id string) error
	// List 所有活動，最新建立的在前
	List(ctx context.Context) (*model.EventList, error)
	// ListActiveDraws 先關閉過期活動，再列出 date 當天仍可販售的活動；date 空字串表示今天
	ListActiveDraws(ctx context.Context, date string) (*model.EventList, error)
	// ListClosedDraws 先關閉過期活動，再列出 date 當天結束的已關閉活動
	ListClosedDraws(ctx context.Context, date string) (*model.EventList, error)
	// SweepExpired 將過期的 active 活動關閉為 closed_not_awarded，回傳關閉數量；可重複與並發執行
	SweepExpired(ctx context.Context) (int, error)
	Award(ctx context.Context, eventID string, params AwardParams) (*model.Event, error)
	SetNumberLimit(ctx context.Context, eventID, number string, limit *int) (*model.NumberQuota, error)
	QuotaSnapshot(ctx context.Context, eventID string) (*model.QuotaSnapshot, error)
}

// AwardParams 三個開獎號碼，皆為 00-99
type AwardParams struct {
	FirstPrize  string
	SecondPrize string
	ThirdPrize  string
}

type EventServiceImpl struct {
	deps *Deps
	log  *zap.Logger
}

func NewEventService(deps *Deps) EventService {
	return &EventServiceImpl{
		deps: deps,
		log:  logger.WithComponent("service"),
	}
}

func (s *EventServiceImpl) Create(ctx context.Context, params model.CreateEventParams) (*model.Event, error) {
	event, err := s.buildEvent(params)
	if err != nil {
		return nil, err
	}

	created, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.Event, error) {
		return s.deps.Events.Create(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Event created",
		zap.String("event_id", created.ID),
		zap.String("end_date", created.EndDate),
		zap.String("end_time", created.EndTime),
	)
	s.deps.Hub.Publish(context.WithoutCancel(ctx), notify.Signal{Kind: notify.KindEvents, Key: created.ID})
	return created, nil
}

func (s *EventServiceImpl) buildEvent(params model.CreateEventParams) (*model.Event, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", apperrors.ErrInvalidInput)
	}

	startDate, err := parseDate(params.StartDate)
	if err != nil {
		return nil, err
	}
	endDate, err := parseDate(params.EndDate)
	if err != nil {
		return nil, err
	}
	startTime, err := parseClock(params.StartTime)
	if err != nil {
		return nil, err
	}
	endTime, err := parseClock(params.EndTime)
	if err != nil {
		return nil, err
	}

	event := &model.Event{
		ID:          uuid.NewString(),
		Name:        name,
		StartDate:   startDate,
		EndDate:     endDate,
		StartTime:   startTime,
		EndTime:     endTime,
		Active:      true,
		RepeatDaily: params.RepeatDaily,
		Status:      model.EventStatusActive,
		MinNumber:   model.DefaultMinNumber,
		MaxNumber:   model.DefaultMaxNumber,
	}
	if params.Active != nil {
		event.Active = *params.Active
	}
	if params.MinNumber != nil {
		event.MinNumber = *params.MinNumber
	}
	if params.MaxNumber != nil {
		event.MaxNumber = *params.MaxNumber
	}
	if event.MinNumber < model.DefaultMinNumber || event.MaxNumber > model.DefaultMaxNumber || event.MinNumber > event.MaxNumber {
		return nil, fmt.Errorf("number range %d-%d: %w", event.MinNumber, event.MaxNumber, apperrors.ErrInvalidInput)
	}

	startsAt, _ := time.Parse(model.DateLayout+" "+model.TimeLayout, startDate+" "+startTime)
	endsAt, _ := time.Parse(model.DateLayout+" "+model.TimeLayout, endDate+" "+endTime)
	if !endsAt.After(startsAt) {
		return nil, fmt.Errorf("event must end after it starts: %w", apperrors.ErrInvalidInput)
	}

	excluded, err := normalizeExcluded(params.ExcludedNumbers)
	if err != nil {
		return nil, err
	}
	event.ExcludedNumbers = excluded
	return event, nil
}

func parseDate(s string) (string, error) {
	t, err := time.Parse(model.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("date %q: %w", s, apperrors.ErrInvalidInput)
	}
	return t.Format(model.DateLayout), nil
}

// parseClock 接受 HH:MM 或 HH:MM:SS，統一為 HH:MM
func parseClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{model.TimeLayout, "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(model.TimeLayout), nil
		}
	}
	return "", fmt.Errorf("time %q: %w", s, apperrors.ErrInvalidInput)
}

func normalizeExcluded(raw string) (string, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	set := make(map[string]int, len(fields))
	for _, f := range fields {
		n, ok := model.NormalizeNumber(f)
		if !ok {
			return "", fmt.Errorf("excluded number %q: %w", f, apperrors.ErrInvalidInput)
		}
		set[n] = 0
	}
	return model.NumbersSummary(set), nil
}

func (s *EventServiceImpl) Get(ctx context.Context, id string) (*model.Event, error) {
	return retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.Event, error) {
		return s.deps.Events.FindByID(ctx, id)
	})
}

func (s *EventServiceImpl) Update(ctx context.Context, id string, params model.UpdateEventParams) (*model.Event, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	active, minNumber, maxNumber := current.Active, current.MinNumber, current.MaxNumber
	if params.Active != nil {
		active = *params.Active
	}
	if params.MinNumber != nil {
		minNumber = *params.MinNumber
	}
	if params.MaxNumber != nil {
		maxNumber = *params.MaxNumber
	}
	event, err := s.buildEvent(model.CreateEventParams{
		Name:            params.Name,
		StartDate:       params.StartDate,
		EndDate:         params.EndDate,
		StartTime:       params.StartTime,
		EndTime:         params.EndTime,
		Active:          &active,
		RepeatDaily:     params.RepeatDaily,
		MinNumber:       &minNumber,
		MaxNumber:       &maxNumber,
		ExcludedNumbers: params.ExcludedNumbers,
	})
	if err != nil {
		return nil, err
	}
	event.ID = id

	updated, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.Event, error) {
		return s.deps.Events.Update(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Event updated",
		zap.String("event_id", id),
		zap.String("end_date", updated.EndDate),
		zap.String("end_time", updated.EndTime),
		zap.Bool("active", updated.Active),
	)
	s.deps.Hub.Publish(context.WithoutCancel(ctx), notify.Signal{Kind: notify.KindEvents, Key: id})
	return updated, nil
}

func (s *EventServiceImpl) Delete(ctx context.Context, id string) error {
	err := s.deps.Retry.Do(ctx, func(ctx context.Context) error {
		return s.deps.Tx.WithTx(ctx, func(ctx context.Context) error {
			return s.deps.Events.Delete(ctx, id)
		})
	})
	if err != nil {
		return err
	}

	s.deps.QuotaCache.Delete(id)
	s.deps.TicketCache.DeletePrefix(TicketsKey(id, ""))
	s.log.Info("Event deleted", zap.String("event_id", id))

	bg := context.WithoutCancel(ctx)
	s.deps.Hub.Publish(bg, notify.Signal{Kind: notify.KindEvents, Key: id})
	s.deps.Hub.Publish(bg, notify.Signal{Kind: notify.KindQuotas, Key: id})
	return nil
}

func (s *EventServiceImpl) resolveDate(date string) (string, error) {
	if strings.TrimSpace(date) == "" {
		return s.deps.today(), nil
	}
	return parseDate(date)
}

// sweepBeforeList 列表前的過期檢查，失敗只記錄
func (s *EventServiceImpl) sweepBeforeList(ctx context.Context) {
	if _, err := s.SweepExpired(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("Sweep before listing failed", zap.Error(err))
	}
}

// listWithSnapshot 成功時保存快照；儲存層不可用時回傳快照並標記 Stale
func (s *EventServiceImpl) listWithSnapshot(ctx context.Context, list string, load func(ctx context.Context) ([]*model.Event, error)) (*model.EventList, error) {
	events, err := retryValue(ctx, s.deps.Retry, load)
	if err == nil {
		if saveErr := s.deps.Snapshots.SaveEvents(context.WithoutCancel(ctx), list, events); saveErr != nil {
			s.log.Warn("Failed to save event snapshot", zap.String("list", list), zap.Error(saveErr))
		}
		return &model.EventList{Events: events}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		return nil, err
	}

	snapshot, ok, snapErr := s.deps.Snapshots.LoadEvents(ctx, list)
	if snapErr != nil || !ok {
		if snapErr != nil {
			s.log.Warn("Failed to load event snapshot", zap.String("list", list), zap.Error(snapErr))
		}
		return nil, err
	}
	s.log.Warn("Serving stale event snapshot", zap.String("list", list), zap.Error(err))
	return &model.EventList{Events: snapshot, Stale: true}, nil
}

func (s *EventServiceImpl) List(ctx context.Context) (*model.EventList, error) {
	s.sweepBeforeList(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.listWithSnapshot(ctx, "all", s.deps.Events.List)
}

func (s *EventServiceImpl) ListActiveDraws(ctx context.Context, date string) (*model.EventList, error) {
	day, err := s.resolveDate(date)
	if err != nil {
		return nil, err
	}
	s.sweepBeforeList(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list, err := s.listWithSnapshot(ctx, "active:"+day, func(ctx context.Context) ([]*model.Event, error) {
		return s.deps.Events.ListActiveOnDate(ctx, day)
	})
	if err != nil {
		return nil, err
	}

	// 快照可能包含之後才過期的活動，兩種來源都要過濾
	now := s.deps.now()
	open := make([]*model.Event, 0, len(list.Events))
	for _, e := range list.Events {
		if !e.IsExpired(now, s.deps.Location) {
			open = append(open, e)
		}
	}
	list.Events = open
	return list, nil
}

func (s *EventServiceImpl) ListClosedDraws(ctx context.Context, date string) (*model.EventList, error) {
	day, err := s.resolveDate(date)
	if err != nil {
		return nil, err
	}
	s.sweepBeforeList(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.listWithSnapshot(ctx, "closed:"+day, func(ctx context.Context) ([]*model.Event, error) {
		return s.deps.Events.ListClosedByEndDate(ctx, day)
	})
}

func (s *EventServiceImpl) SweepExpired(ctx context.Context) (int, error) {
	now := s.deps.now()
	ids, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) ([]string, error) {
		return s.deps.Events.CloseExpired(ctx, now)
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	s.log.Info("Closed expired events", zap.Int("count", len(ids)), zap.Strings("event_ids", ids))
	bg := context.WithoutCancel(ctx)
	for _, id := range ids {
		s.deps.Hub.Publish(bg, notify.Signal{Kind: notify.KindEvents, Key: id})
	}
	return len(ids), nil
}

func (s *EventServiceImpl) Award(ctx context.Context, eventID string, params AwardParams) (*model.Event, error) {
	award, err := normalizeAward(params)
	if err != nil {
		return nil, err
	}
	award.AwardedAt = s.deps.Clock.Now()

	event, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.Event, error) {
		return s.deps.Events.Award(ctx, eventID, award)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidStateTransition) {
			s.log.Warn("Award rejected", zap.String("event_id", eventID), zap.Error(err))
		}
		return nil, err
	}

	s.log.Info("Event awarded",
		zap.String("event_id", eventID),
		zap.String("first_prize", award.FirstPrize),
		zap.String("second_prize", award.SecondPrize),
		zap.String("third_prize", award.ThirdPrize),
	)
	s.deps.Hub.Publish(context.WithoutCancel(ctx), notify.Signal{Kind: notify.KindEvents, Key: eventID})
	return event, nil
}

func normalizeAward(params AwardParams) (model.AwardNumbers, error) {
	var award model.AwardNumbers
	for _, p := range []struct {
		name string
		in   string
		out  *string
	}{
		{"first_prize", params.FirstPrize, &award.FirstPrize},
		{"second_prize", params.SecondPrize, &award.SecondPrize},
		{"third_prize", params.ThirdPrize, &award.ThirdPrize},
	} {
		n, ok := model.NormalizeNumber(p.in)
		if !ok {
			return model.AwardNumbers{}, fmt.Errorf("%s %q: %w", p.name, p.in, apperrors.ErrInvalidInput)
		}
		*p.out = n
	}
	return award, nil
}

func (s *EventServiceImpl) SetNumberLimit(ctx context.Context, eventID, number string, limit *int) (*model.NumberQuota, error) {
	n, ok := model.NormalizeNumber(number)
	if !ok {
		return nil, fmt.Errorf("number %q: %w", number, apperrors.ErrInvalidInput)
	}
	if limit != nil && *limit < 0 {
		return nil, fmt.Errorf("limit %d: %w", *limit, apperrors.ErrInvalidInput)
	}

	quota, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.NumberQuota, error) {
		return s.deps.Quotas.SetLimit(ctx, eventID, n, limit)
	})
	if err != nil {
		return nil, err
	}

	s.deps.QuotaCache.Delete(eventID)
	s.deps.Hub.Publish(context.WithoutCancel(ctx), notify.Signal{Kind: notify.KindQuotas, Key: eventID})
	return quota, nil
}

func (s *EventServiceImpl) QuotaSnapshot(ctx context.Context, eventID string) (*model.QuotaSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snap, ok := s.deps.QuotaCache.Get(eventID); ok {
		return snap, nil
	}

	if _, err := s.Get(ctx, eventID); err != nil {
		return nil, err
	}
	quotas, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) ([]*model.NumberQuota, error) {
		return s.deps.Quotas.ListByEvent(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(quotas, func(i, j int) bool { return quotas[i].Number < quotas[j].Number })

	snap := &model.QuotaSnapshot{EventID: eventID, Quotas: quotas}
	s.deps.QuotaCache.Set(eventID, snap)
	return snap, nil
}
