package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"numix-engine/internal/model"
	apperrors "numix-engine/pkg/app_errors"

	"github.com/google/uuid"
)

type ticketRepository struct {
	s *Store
}

func (r *ticketRepository) Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	unlock, err := r.s.enter(ctx, "create ticket")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, ok := r.s.st.events[ticket.EventID]; !ok {
		return nil, apperrors.ErrEventNotFound
	}

	created := cloneTicket(ticket)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, exists := r.s.st.tickets[created.ID]; exists {
		return nil, fmt.Errorf("ticket %s already exists: %w", created.ID, apperrors.ErrInvalidInput)
	}
	now := r.s.clock.Now()
	created.CreatedAt = now
	created.UpdatedAt = now

	r.s.seq++
	r.s.st.tickets[created.ID] = ticketRecord{ticket: created, seq: r.s.seq}
	return cloneTicket(created), nil
}

func (r *ticketRepository) FindByID(ctx context.Context, id string) (*model.Ticket, error) {
	unlock, err := r.s.enter(ctx, "find ticket")
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, ok := r.s.st.tickets[id]
	if !ok {
		return nil, apperrors.ErrTicketNotFound
	}
	return cloneTicket(rec.ticket), nil
}

func (r *ticketRepository) FindByIDForUpdate(ctx context.Context, id string) (*model.Ticket, error) {
	return r.FindByID(ctx, id)
}

func (r *ticketRepository) ListByEventAndVendor(ctx context.Context, eventID, vendorEmail string) ([]*model.Ticket, error) {
	unlock, err := r.s.enter(ctx, "list tickets")
	if err != nil {
		return nil, err
	}
	defer unlock()

	records := make([]ticketRecord, 0)
	for _, rec := range r.s.st.tickets {
		if rec.ticket.EventID == eventID && strings.EqualFold(rec.ticket.VendorEmail, vendorEmail) {
			records = append(records, rec)
		}
	}
	// 新的在前
	sort.Slice(records, func(i, j int) bool { return records[i].seq > records[j].seq })

	tickets := make([]*model.Ticket, 0, len(records))
	for _, rec := range records {
		tickets = append(tickets, cloneTicket(rec.ticket))
	}
	return tickets, nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	unlock, err := r.s.enter(ctx, "update ticket")
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, ok := r.s.st.tickets[ticket.ID]
	if !ok {
		return nil, apperrors.ErrTicketNotFound
	}
	stored := rec.ticket
	stored.ClientName = ticket.ClientName
	stored.Amount = ticket.Amount
	stored.Rows = append([]model.Row{}, ticket.Rows...)
	stored.Numbers = ticket.Numbers
	stored.UpdatedAt = r.s.clock.Now()
	return cloneTicket(stored), nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	unlock, err := r.s.enter(ctx, "delete ticket")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := r.s.st.tickets[id]; !ok {
		return apperrors.ErrTicketNotFound
	}
	delete(r.s.st.tickets, id)
	return nil
}

func (r *ticketRepository) ExistsDuplicate(ctx context.Context, eventID, clientName string, amount float64, numbers string, since time.Time) (bool, error) {
	unlock, err := r.s.enter(ctx, "check duplicate ticket")
	if err != nil {
		return false, err
	}
	defer unlock()

	for _, rec := range r.s.st.tickets {
		t := rec.ticket
		if t.EventID == eventID && t.ClientName == clientName && t.Amount == amount &&
			t.Numbers == numbers && !t.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}
