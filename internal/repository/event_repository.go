package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"numix-engine/internal/model"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository interface {
	Create(ctx context.Context, event *model.Event) (*model.Event, error)
	FindByID(ctx context.Context, id string) (*model.Event, error)
	// FindByIDForShare 在交易內以共享鎖讀取，避免與關閉/開獎交錯
	FindByIDForShare(ctx context.Context, id string) (*model.Event, error)
	// List 所有活動，最新建立的在前
	List(ctx context.Context) ([]*model.Event, error)
	// Update 只寫入可編輯欄位，不會改變 status 與開獎號碼
	Update(ctx context.Context, event *model.Event) (*model.Event, error)
	ListClosedByEndDate(ctx context.Context, date string) ([]*model.Event, error)
	ListActiveOnDate(ctx context.Context, date string) ([]*model.Event, error)
	// CloseExpired 將 end_date + end_time <= now 的 active 活動改為 closed_not_awarded，回傳被關閉的 id
	CloseExpired(ctx context.Context, now time.Time) ([]string, error)
	// Award 只有 active 狀態可以開獎
	Award(ctx context.Context, id string, award model.AwardNumbers) (*model.Event, error)
	Delete(ctx context.Context, id string) error
}

type EventRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &EventRepositoryImpl{
		pool: pool,
	}
}

const eventColumns = `
	id::text, name, start_date::text, end_date::text,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	active, repeat_daily, status, min_number, max_number, excluded_numbers,
	first_prize, second_prize, third_prize, awarded_at,
	created_at, updated_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		event     model.Event
		first     *string
		second    *string
		third     *string
		awardedAt *time.Time
	)
	err := row.Scan(
		&event.ID,
		&event.Name,
		&event.StartDate,
		&event.EndDate,
		&event.StartTime,
		&event.EndTime,
		&event.Active,
		&event.RepeatDaily,
		&event.Status,
		&event.MinNumber,
		&event.MaxNumber,
		&event.ExcludedNumbers,
		&first,
		&second,
		&third,
		&awardedAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if first != nil {
		award := &model.AwardNumbers{FirstPrize: *first}
		if second != nil {
			award.SecondPrize = *second
		}
		if third != nil {
			award.ThirdPrize = *third
		}
		if awardedAt != nil {
			award.AwardedAt = *awardedAt
		}
		event.AwardedNumbers = award
	}
	return &event, nil
}

func scanEvents(rows pgx.Rows) ([]*model.Event, error) {
	defer rows.Close()

	events := make([]*model.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *EventRepositoryImpl) Create(ctx context.Context, event *model.Event) (*model.Event, error) {
	query := `
		INSERT INTO events (id, name, start_date, end_date, start_time, end_time,
			active, repeat_daily, status, min_number, max_number, excluded_numbers)
		VALUES ($1, $2, $3::date, $4::date, $5::time, $6::time, $7, $8, $9, $10, $11, $12)
		RETURNING ` + eventColumns

	created, err := scanEvent(conn(ctx, r.pool).QueryRow(ctx, query,
		event.ID, event.Name, event.StartDate, event.EndDate, event.StartTime, event.EndTime,
		event.Active, event.RepeatDaily, event.Status, event.MinNumber, event.MaxNumber, event.ExcludedNumbers,
	))
	if err != nil {
		return nil, classify("create event", err)
	}
	return created, nil
}

func (r *EventRepositoryImpl) FindByID(ctx context.Context, id string) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return r.findOne(ctx, "find event", query, id)
}

func (r *EventRepositoryImpl) FindByIDForShare(ctx context.Context, id string) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 FOR SHARE`
	return r.findOne(ctx, "find event for share", query, id)
}

func (r *EventRepositoryImpl) findOne(ctx context.Context, op, query, id string) (*model.Event, error) {
	event, err := scanEvent(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, apperrors.ErrEventNotFound
		}
		return nil, classify(op, err)
	}
	return event, nil
}

func (r *EventRepositoryImpl) List(ctx context.Context) ([]*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events ORDER BY created_at DESC, id DESC`
	rows, err := conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, classify("list events", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, classify("list events", err)
	}
	return events, nil
}

func (r *EventRepositoryImpl) Update(ctx context.Context, event *model.Event) (*model.Event, error) {
	query := `
		UPDATE events
		SET name = $2, start_date = $3::date, end_date = $4::date,
			start_time = $5::time, end_time = $6::time,
			active = $7, repeat_daily = $8, min_number = $9, max_number = $10,
			excluded_numbers = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + eventColumns

	updated, err := scanEvent(conn(ctx, r.pool).QueryRow(ctx, query,
		event.ID, event.Name, event.StartDate, event.EndDate, event.StartTime, event.EndTime,
		event.Active, event.RepeatDaily, event.MinNumber, event.MaxNumber, event.ExcludedNumbers,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, apperrors.ErrEventNotFound
		}
		return nil, classify("update event", err)
	}
	return updated, nil
}

func (r *EventRepositoryImpl) ListClosedByEndDate(ctx context.Context, date string) ([]*model.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE end_date = $1::date AND status IN ('closed_awarded', 'closed_not_awarded')
		ORDER BY end_time, name
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, date)
	if err != nil {
		return nil, classify("list closed events", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, classify("list closed events", err)
	}
	return events, nil
}

func (r *EventRepositoryImpl) ListActiveOnDate(ctx context.Context, date string) ([]*model.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status = 'active' AND active
			AND (start_date = $1::date OR end_date = $1::date)
		ORDER BY end_time, name
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, date)
	if err != nil {
		return nil, classify("list active events", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, classify("list active events", err)
	}
	return events, nil
}

func (r *EventRepositoryImpl) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	// end_date + end_time 為 timestamp without time zone，now 需先轉為活動時區的字串
	query := `
		UPDATE events
		SET status = 'closed_not_awarded', updated_at = NOW()
		WHERE status = 'active' AND (end_date + end_time) <= $1::timestamp
		RETURNING id::text
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, now.Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, classify("close expired events", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("close expired events", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("close expired events", err)
	}
	return ids, nil
}

func (r *EventRepositoryImpl) Award(ctx context.Context, id string, award model.AwardNumbers) (*model.Event, error) {
	query := `
		UPDATE events
		SET status = 'closed_awarded', first_prize = $2, second_prize = $3, third_prize = $4,
			awarded_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'active'
		RETURNING ` + eventColumns

	event, err := scanEvent(conn(ctx, r.pool).QueryRow(ctx, query,
		id, award.FirstPrize, award.SecondPrize, award.ThirdPrize, award.AwardedAt,
	))
	if err == nil {
		return event, nil
	}
	if isInvalidUUID(err) {
		return nil, apperrors.ErrEventNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, classify("award event", err)
	}

	// 沒有更新任何列：不存在或已經關閉
	if _, findErr := r.FindByID(ctx, id); findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("award event %s: %w", id, apperrors.ErrInvalidStateTransition)
}

// Delete 票券與配額透過 ON DELETE CASCADE 一併刪除
func (r *EventRepositoryImpl) Delete(ctx context.Context, id string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return apperrors.ErrEventNotFound
		}
		return classify("delete event", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrEventNotFound
	}
	return nil
}
