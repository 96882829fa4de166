package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"numix-engine/internal/model"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/google/uuid"
)

type eventRepository struct {
	s *Store
}

func (r *eventRepository) Create(ctx context.Context, event *model.Event) (*model.Event, error) {
	unlock, err := r.s.enter(ctx, "create event")
	if err != nil {
		return nil, err
	}
	defer unlock()

	created := cloneEvent(event)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, exists := r.s.st.events[created.ID]; exists {
		return nil, fmt.Errorf("event %s already exists: %w", created.ID, apperrors.ErrInvalidInput)
	}
	if created.Status == "" {
		created.Status = model.EventStatusActive
	}
	now := r.s.clock.Now()
	created.CreatedAt = now
	created.UpdatedAt = now
	r.s.seq++
	r.s.st.events[created.ID] = created
	r.s.st.eventSeq[created.ID] = r.s.seq
	return cloneEvent(created), nil
}

func (r *eventRepository) FindByID(ctx context.Context, id string) (*model.Event, error) {
	unlock, err := r.s.enter(ctx, "find event")
	if err != nil {
		return nil, err
	}
	defer unlock()

	event, ok := r.s.st.events[id]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}
	return cloneEvent(event), nil
}

// FindByIDForShare 交易已持有 store 鎖，與 FindByID 相同
func (r *eventRepository) FindByIDForShare(ctx context.Context, id string) (*model.Event, error) {
	return r.FindByID(ctx, id)
}

func (r *eventRepository) List(ctx context.Context) ([]*model.Event, error) {
	unlock, err := r.s.enter(ctx, "list events")
	if err != nil {
		return nil, err
	}
	defer unlock()

	events := make([]*model.Event, 0, len(r.s.st.events))
	for _, e := range r.s.st.events {
		events = append(events, cloneEvent(e))
	}
	seq := r.s.st.eventSeq
	sort.Slice(events, func(i, j int) bool { return seq[events[i].ID] > seq[events[j].ID] })
	return events, nil
}

func (r *eventRepository) Update(ctx context.Context, event *model.Event) (*model.Event, error) {
	unlock, err := r.s.enter(ctx, "update event")
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, ok := r.s.st.events[event.ID]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}
	e.Name = event.Name
	e.StartDate = event.StartDate
	e.EndDate = event.EndDate
	e.StartTime = event.StartTime
	e.EndTime = event.EndTime
	e.Active = event.Active
	e.RepeatDaily = event.RepeatDaily
	e.MinNumber = event.MinNumber
	e.MaxNumber = event.MaxNumber
	e.ExcludedNumbers = event.ExcludedNumbers
	e.UpdatedAt = r.s.clock.Now()
	return cloneEvent(e), nil
}

func (r *eventRepository) ListClosedByEndDate(ctx context.Context, date string) ([]*model.Event, error) {
	return r.list(ctx, "list closed events", func(e *model.Event) bool {
		return e.EndDate == date && e.Status.IsClosed()
	})
}

func (r *eventRepository) ListActiveOnDate(ctx context.Context, date string) ([]*model.Event, error) {
	return r.list(ctx, "list active events", func(e *model.Event) bool {
		return e.Status == model.EventStatusActive && e.Active &&
			(e.StartDate == date || e.EndDate == date)
	})
}

func (r *eventRepository) list(ctx context.Context, op string, match func(*model.Event) bool) ([]*model.Event, error) {
	unlock, err := r.s.enter(ctx, op)
	if err != nil {
		return nil, err
	}
	defer unlock()

	events := make([]*model.Event, 0)
	for _, e := range r.s.st.events {
		if match(e) {
			events = append(events, cloneEvent(e))
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].EndTime != events[j].EndTime {
			return events[i].EndTime < events[j].EndTime
		}
		return events[i].Name < events[j].Name
	})
	return events, nil
}

func (r *eventRepository) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	unlock, err := r.s.enter(ctx, "close expired events")
	if err != nil {
		return nil, err
	}
	defer unlock()

	ids := make([]string, 0)
	for id, e := range r.s.st.events {
		if e.Status != model.EventStatusActive || !e.IsExpired(now, now.Location()) {
			continue
		}
		e.Status = model.EventStatusClosedNotAwarded
		e.UpdatedAt = r.s.clock.Now()
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *eventRepository) Award(ctx context.Context, id string, award model.AwardNumbers) (*model.Event, error) {
	unlock, err := r.s.enter(ctx, "award event")
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, ok := r.s.st.events[id]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}
	if !e.Status.CanTransitionTo(model.EventStatusClosedAwarded) {
		return nil, fmt.Errorf("award event %s: %w", id, apperrors.ErrInvalidStateTransition)
	}
	e.Status = model.EventStatusClosedAwarded
	e.AwardedNumbers = &award
	e.UpdatedAt = award.AwardedAt
	return cloneEvent(e), nil
}

func (r *eventRepository) Delete(ctx context.Context, id string) error {
	unlock, err := r.s.enter(ctx, "delete event")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := r.s.st.events[id]; !ok {
		return apperrors.ErrEventNotFound
	}
	delete(r.s.st.events, id)
	delete(r.s.st.eventSeq, id)
	delete(r.s.st.quotas, id)
	for ticketID, rec := range r.s.st.tickets {
		if rec.ticket.EventID == id {
			delete(r.s.st.tickets, ticketID)
		}
	}
	return nil
}
