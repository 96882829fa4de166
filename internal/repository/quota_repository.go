package repository

import (
	"context"
	"errors"
	"fmt"

	"numix-engine/internal/model"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuotaRepository 號碼配額；所有變更在同一交易內以號碼排序的順序套用
type QuotaRepository interface {
	// Reserve 全部保留或全部失敗；任一號碼超過上限回傳 *CapacityExceededError
	Reserve(ctx context.Context, eventID string, quantities map[string]int) error
	// Release 釋放已保留的數量，sold 不會低於 0
	Release(ctx context.Context, eventID string, quantities map[string]int) error
	// Apply 套用差額：正數保留 (受上限約束)，負數釋放 (不低於 0)
	Apply(ctx context.Context, eventID string, deltas map[string]int) error
	Get(ctx context.Context, eventID, number string) (*model.NumberQuota, error)
	ListByEvent(ctx context.Context, eventID string) ([]*model.NumberQuota, error)
	// SetLimit limit 為 nil 表示取消上限；低於已售數量回傳 ErrLimitBelowSold
	SetLimit(ctx context.Context, eventID, number string, limit *int) (*model.NumberQuota, error)
}

type QuotaRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewQuotaRepository(pool *pgxpool.Pool) QuotaRepository {
	return &QuotaRepositoryImpl{
		pool: pool,
	}
}

const quotaColumns = `event_id::text, number, sold, sold_limit, updated_at`

func scanQuota(row pgx.Row) (*model.NumberQuota, error) {
	var quota model.NumberQuota
	err := row.Scan(
		&quota.EventID,
		&quota.Number,
		&quota.Sold,
		&quota.Limit,
		&quota.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

func (r *QuotaRepositoryImpl) Reserve(ctx context.Context, eventID string, quantities map[string]int) error {
	if err := validateQuantities(quantities); err != nil {
		return err
	}
	return r.Apply(ctx, eventID, quantities)
}

func (r *QuotaRepositoryImpl) Release(ctx context.Context, eventID string, quantities map[string]int) error {
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

func (r *QuotaRepositoryImpl) Apply(ctx context.Context, eventID string, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}
	return withTx(ctx, r.pool, func(ctx context.Context) error {
		for _, number := range model.SortedNumbers(deltas) {
			delta := deltas[number]
			switch {
			case delta > 0:
				if err := r.reserve(ctx, eventID, number, delta); err != nil {
					return err
				}
			case delta < 0:
				if err := r.release(ctx, eventID, number, -delta); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *QuotaRepositoryImpl) reserve(ctx context.Context, eventID, number string, quantity int) error {
	query := `
		INSERT INTO number_quotas (event_id, number, sold, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id, number) DO UPDATE
		SET sold = number_quotas.sold + EXCLUDED.sold, updated_at = NOW()
		WHERE number_quotas.sold_limit IS NULL
			OR number_quotas.sold + EXCLUDED.sold <= number_quotas.sold_limit
		RETURNING sold
	`
	var sold int
	err := conn(ctx, r.pool).QueryRow(ctx, query, eventID, number, quantity).Scan(&sold)
	if err == nil {
		return nil
	}
	if isForeignKeyViolation(err) || isInvalidUUID(err) {
		return apperrors.ErrEventNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return classify("reserve quota", err)
	}

	// 衝突列已被本交易鎖定，讀到的 sold 與上限是一致的
	quota, err := r.Get(ctx, eventID, number)
	if err != nil {
		return err
	}
	return &apperrors.CapacityExceededError{
		Number:    number,
		Requested: quantity,
		Remaining: quota.Remaining(),
	}
}

func (r *QuotaRepositoryImpl) release(ctx context.Context, eventID, number string, quantity int) error {
	query := `
		UPDATE number_quotas
		SET sold = GREATEST(sold - $3, 0), updated_at = NOW()
		WHERE event_id = $1 AND number = $2
	`
	if _, err := conn(ctx, r.pool).Exec(ctx, query, eventID, number, quantity); err != nil {
		return classify("release quota", err)
	}
	return nil
}

func (r *QuotaRepositoryImpl) Get(ctx context.Context, eventID, number string) (*model.NumberQuota, error) {
	query := `SELECT ` + quotaColumns + ` FROM number_quotas WHERE event_id = $1 AND number = $2`
	quota, err := scanQuota(conn(ctx, r.pool).QueryRow(ctx, query, eventID, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return &model.NumberQuota{EventID: eventID, Number: number}, nil
		}
		return nil, classify("get quota", err)
	}
	return quota, nil
}

func (r *QuotaRepositoryImpl) ListByEvent(ctx context.Context, eventID string) ([]*model.NumberQuota, error) {
	query := `SELECT ` + quotaColumns + ` FROM number_quotas WHERE event_id = $1 ORDER BY number`
	rows, err := conn(ctx, r.pool).Query(ctx, query, eventID)
	if err != nil {
		if isInvalidUUID(err) {
			return []*model.NumberQuota{}, nil
		}
		return nil, classify("list quotas", err)
	}
	defer rows.Close()

	quotas := make([]*model.NumberQuota, 0)
	for rows.Next() {
		quota, err := scanQuota(rows)
		if err != nil {
			return nil, classify("list quotas", err)
		}
		quotas = append(quotas, quota)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list quotas", err)
	}
	return quotas, nil
}

func (r *QuotaRepositoryImpl) SetLimit(ctx context.Context, eventID, number string, limit *int) (*model.NumberQuota, error) {
	if limit != nil && *limit < 0 {
		return nil, fmt.Errorf("limit %d: %w", *limit, apperrors.ErrInvalidInput)
	}

	query := `
		INSERT INTO number_quotas (event_id, number, sold, sold_limit, updated_at)
		VALUES ($1, $2, 0, $3, NOW())
		ON CONFLICT (event_id, number) DO UPDATE
		SET sold_limit = EXCLUDED.sold_limit, updated_at = NOW()
		WHERE EXCLUDED.sold_limit IS NULL OR number_quotas.sold <= EXCLUDED.sold_limit
		RETURNING ` + quotaColumns

	quota, err := scanQuota(conn(ctx, r.pool).QueryRow(ctx, query, eventID, number, limit))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("number %s: %w", number, apperrors.ErrLimitBelowSold)
		case isForeignKeyViolation(err), isInvalidUUID(err):
			return nil, apperrors.ErrEventNotFound
		}
		return nil, classify("set quota limit", err)
	}
	return quota, nil
}
