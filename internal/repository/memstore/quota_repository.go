package memstore

import (
	"context"
	"fmt"
	"sort"

	"numix-engine/internal/model"
	apperrors "numix-engine/pkg/app_errors"
)

type quotaRepository struct {
	s *Store
}

func (r *quotaRepository) Reserve(ctx context.Context, eventID string, quantities map[string]int) error {
	if err := validateQuantities(quantities); err != nil {
		return err
	}
	return r.Apply(ctx, eventID, quantities)
}

func (r *quotaRepository) Release(ctx context.Context, eventID string, quantities map[string]int) error {
	if err := validateQuantities(quantities); err != nil {
		return err
	}
	return r.Apply(ctx, eventID, model.Negate(quantities))
}

func validateQuantities(quantities map[string]int) error {
	for number, quantity := range quantities {
		if quantity <= 0 {
			return fmt.Errorf("number %s quantity %d: %w", number, quantity, apperrors.ErrInvalidInput)
		}
	}
	return nil
}

// Apply 在交易內執行，任一號碼失敗時前面的變更隨 rollback 還原
func (r *quotaRepository) Apply(ctx context.Context, eventID string, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}
	return r.s.withTx(ctx, func(ctx context.Context) error {
		if _, ok := r.s.st.events[eventID]; !ok {
			return apperrors.ErrEventNotFound
		}
		byNumber := r.s.st.quotas[eventID]
		if byNumber == nil {
			byNumber = make(map[string]*model.NumberQuota)
			r.s.st.quotas[eventID] = byNumber
		}

		now := r.s.clock.Now()
		for _, number := range model.SortedNumbers(deltas) {
			delta := deltas[number]
			q, exists := byNumber[number]
			switch {
			case delta > 0:
				if !exists {
					q = &model.NumberQuota{EventID: eventID, Number: number}
				}
				if q.Limit != nil && q.Sold+delta > *q.Limit {
					return &apperrors.CapacityExceededError{
						Number:    number,
						Requested: delta,
						Remaining: q.Remaining(),
					}
				}
				q.Sold += delta
				q.UpdatedAt = now
				byNumber[number] = q
			case delta < 0:
				if !exists {
					continue
				}
				q.Sold = max(q.Sold+delta, 0)
				q.UpdatedAt = now
			}
		}
		return nil
	})
}

func (r *quotaRepository) Get(ctx context.Context, eventID, number string) (*model.NumberQuota, error) {
	unlock, err := r.s.enter(ctx, "get quota")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if q, ok := r.s.st.quotas[eventID][number]; ok {
		return cloneQuota(q), nil
	}
	return &model.NumberQuota{EventID: eventID, Number: number}, nil
}

func (r *quotaRepository) ListByEvent(ctx context.Context, eventID string) ([]*model.NumberQuota, error) {
	unlock, err := r.s.enter(ctx, "list quotas")
	if err != nil {
		return nil, err
	}
	defer unlock()

	byNumber := r.s.st.quotas[eventID]
	quotas := make([]*model.NumberQuota, 0, len(byNumber))
	for _, q := range byNumber {
		quotas = append(quotas, cloneQuota(q))
	}
	sort.Slice(quotas, func(i, j int) bool { return quotas[i].Number < quotas[j].Number })
	return quotas, nil
}

func (r *quotaRepository) SetLimit(ctx context.Context, eventID, number string, limit *int) (*model.NumberQuota, error) {
	if limit != nil && *limit < 0 {
		return nil, fmt.Errorf("limit %d: %w", *limit, apperrors.ErrInvalidInput)
	}

	unlock, err := r.s.enter(ctx, "set quota limit")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, ok := r.s.st.events[eventID]; !ok {
		return nil, apperrors.ErrEventNotFound
	}
	byNumber := r.s.st.quotas[eventID]
	if byNumber == nil {
		byNumber = make(map[string]*model.NumberQuota)
		r.s.st.quotas[eventID] = byNumber
	}
	q, ok := byNumber[number]
	if !ok {
		q = &model.NumberQuota{EventID: eventID, Number: number}
	}
	if limit != nil && q.Sold > *limit {
		return nil, fmt.Errorf("number %s: %w", number, apperrors.ErrLimitBelowSold)
	}
	if limit != nil {
		v := *limit
		q.Limit = &v
	} else {
		q.Limit = nil
	}
	q.UpdatedAt = r.s.clock.Now()
	byNumber[number] = q
	return cloneQuota(q), nil
}
