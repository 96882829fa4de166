package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"numix-engine/internal/model"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TicketRepository interface {
	Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error)
	FindByID(ctx context.Context, id string) (*model.Ticket, error)
	ListByEventAndVendor(ctx context.Context, eventID, vendorEmail string) ([]*model.Ticket, error)
	// Update 覆寫 client_name、amount、rows、numbers
	Update(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error)
	Delete(ctx context.Context, id string) error
	// ExistsDuplicate since 之後是否已建立同活動、同客戶、同金額、同號碼摘要的票券
	ExistsDuplicate(ctx context.Context, eventID, clientName string, amount float64, numbers string, since time.Time) (bool, error)

	// Transaction methods
	FindByIDForUpdate(ctx context.Context, id string) (*model.Ticket, error)
}

type TicketRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &TicketRepositoryImpl{
		pool: pool,
	}
}

const ticketColumns = `
	id::text, event_id::text, client_name, vendor_email, amount, rows, numbers,
	created_at, updated_at`

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var (
		ticket model.Ticket
		raw    []byte
	)
	err := row.Scan(
		&ticket.ID,
		&ticket.EventID,
		&ticket.ClientName,
		&ticket.VendorEmail,
		&ticket.Amount,
		&raw,
		&ticket.Numbers,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ticket.Rows); err != nil {
			return nil, fmt.Errorf("decode ticket rows: %w", err)
		}
	}
	if ticket.Rows == nil {
		ticket.Rows = []model.Row{}
	}
	return &ticket, nil
}

func encodeRows(rows []model.Row) ([]byte, error) {
	if rows == nil {
		rows = []model.Row{}
	}
	return json.Marshal(rows)
}

func (r *TicketRepositoryImpl) Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	raw, err := encodeRows(ticket.Rows)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO tickets (id, event_id, client_name, vendor_email, amount, rows, numbers)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + ticketColumns

	created, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.ID, ticket.EventID, ticket.ClientName, ticket.VendorEmail,
		ticket.Amount, raw, ticket.Numbers,
	))
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidUUID(err) {
			return nil, apperrors.ErrEventNotFound
		}
		return nil, classify("create ticket", err)
	}
	return created, nil
}

func (r *TicketRepositoryImpl) FindByID(ctx context.Context, id string) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	return r.findOne(ctx, "find ticket", query, id)
}

func (r *TicketRepositoryImpl) FindByIDForUpdate(ctx context.Context, id string) (*model.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1 FOR UPDATE`
	return r.findOne(ctx, "find ticket for update", query, id)
}

func (r *TicketRepositoryImpl) findOne(ctx context.Context, op, query, id string) (*model.Ticket, error) {
	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, apperrors.ErrTicketNotFound
		}
		return nil, classify(op, err)
	}
	return ticket, nil
}

func (r *TicketRepositoryImpl) ListByEventAndVendor(ctx context.Context, eventID, vendorEmail string) ([]*model.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE event_id = $1 AND lower(vendor_email) = lower($2)
		ORDER BY created_at DESC
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, eventID, vendorEmail)
	if err != nil {
		if isInvalidUUID(err) {
			return []*model.Ticket{}, nil
		}
		return nil, classify("list tickets", err)
	}
	defer rows.Close()

	tickets := make([]*model.Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, classify("list tickets", err)
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list tickets", err)
	}
	return tickets, nil
}

func (r *TicketRepositoryImpl) Update(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	raw, err := encodeRows(ticket.Rows)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE tickets
		SET client_name = $2, amount = $3, rows = $4, numbers = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + ticketColumns

	updated, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.ID, ticket.ClientName, ticket.Amount, raw, ticket.Numbers,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, apperrors.ErrTicketNotFound
		}
		return nil, classify("update ticket", err)
	}
	return updated, nil
}

func (r *TicketRepositoryImpl) Delete(ctx context.Context, id string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return apperrors.ErrTicketNotFound
		}
		return classify("delete ticket", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrTicketNotFound
	}
	return nil
}

func (r *TicketRepositoryImpl) ExistsDuplicate(ctx context.Context, eventID, clientName string, amount float64, numbers string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE event_id = $1 AND client_name = $2 AND amount = $3 AND numbers = $4
				AND created_at >= $5
		)
	`
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, query, eventID, clientName, amount, numbers, since).Scan(&exists)
	if err != nil {
		if isInvalidUUID(err) {
			return false, nil
		}
		return false, classify("check duplicate ticket", err)
	}
	return exists, nil
}
