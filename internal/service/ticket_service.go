package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"numix-engine/internal/model"
	"numix-engine/internal/notify"
	apperrors "numix-engine/pkg/app_errors"
	"numix-engine/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TicketService interface {
	// Create 保留配額並建立票券，同一交易內完成
	Create(ctx context.Context, input CreateTicketInput) (*model.Ticket, error)
	// Update 依新舊號碼差額調整配額
	Update(ctx context.Context, input UpdateTicketInput) (*model.Ticket, error)
	// Delete 釋放票券持有的配額並刪除
	Delete(ctx context.Context, ticketID, eventID, vendorEmail string) error
	// GetTicketsForVendor 儲存層不可用時回傳最後一次的快照，Stale 為 true
	GetTicketsForVendor(ctx context.Context, eventID, vendorEmail string) (*model.TicketList, error)
}

type CreateTicketInput struct {
	EventID     string
	VendorEmail string
	ClientName  string
	Amount      float64
	Rows        []model.Row
}

// UpdateTicketInput nil 欄位保持不變；Rows 為 nil 時不調整號碼
type UpdateTicketInput struct {
	TicketID    string
	EventID     string
	VendorEmail string
	ClientName  *string
	Amount      *float64
	Rows        []model.Row
}

type TicketServiceImpl struct {
	deps *Deps
	log  *zap.Logger
}

func NewTicketService(deps *Deps) TicketService {
	return &TicketServiceImpl{
		deps: deps,
		log:  logger.WithComponent("service"),
	}
}

// loadOpenEvent 交易內以共享鎖讀取活動並確認仍可販售
func (s *TicketServiceImpl) loadOpenEvent(ctx context.Context, eventID string) (*model.Event, error) {
	event, err := s.deps.Events.FindByIDForShare(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.AcceptsWrites(s.deps.now(), s.deps.Location) {
		return nil, fmt.Errorf("event %s: %w", eventID, apperrors.ErrEventClosed)
	}
	return event, nil
}

func (s *TicketServiceImpl) Create(ctx context.Context, input CreateTicketInput) (*model.Ticket, error) {
	vendor := normalizeVendor(input.VendorEmail)
	client := strings.TrimSpace(input.ClientName)
	switch {
	case vendor == "":
		return nil, fmt.Errorf("vendor email is required: %w", apperrors.ErrInvalidInput)
	case client == "":
		return nil, fmt.Errorf("client name is required: %w", apperrors.ErrInvalidInput)
	case input.Amount < 0:
		return nil, fmt.Errorf("amount must not be negative: %w", apperrors.ErrInvalidInput)
	}

	// 交易外先檢查一次，避免為已關閉的活動做重複偵測
	event, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.Event, error) {
		return s.deps.Events.FindByID(ctx, input.EventID)
	})
	if err != nil {
		return nil, err
	}
	if !event.AcceptsWrites(s.deps.now(), s.deps.Location) {
		return nil, fmt.Errorf("event %s: %w", input.EventID, apperrors.ErrEventClosed)
	}

	quantities := model.Consolidate(input.Rows, event.AcceptsNumber)
	if len(quantities) == 0 {
		return nil, apperrors.ErrNoValidSelections
	}
	numbers := model.NumbersSummary(quantities)

	if s.deps.Detector.IsDuplicate(ctx, event.ID, client, input.Amount, numbers) {
		s.log.Info("Duplicate submission rejected",
			zap.String("event_id", event.ID),
			zap.String("vendor", vendor),
			zap.String("numbers", numbers),
		)
		return nil, apperrors.ErrDuplicateSubmission
	}

	ticket := &model.Ticket{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		ClientName:  client,
		VendorEmail: vendor,
		Amount:      input.Amount,
		Rows:        model.RowsFromDeltas(quantities),
		Numbers:     numbers,
	}

	created, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.Ticket, error) {
		var created *model.Ticket
		err := s.deps.Tx.WithTx(ctx, func(ctx context.Context) error {
			if _, err := s.loadOpenEvent(ctx, ticket.EventID); err != nil {
				return err
			}
			if err := s.deps.Quotas.Reserve(ctx, ticket.EventID, quantities); err != nil {
				return err
			}
			var err error
			created, err = s.deps.Tickets.Create(ctx, ticket)
			return err
		})
		return created, err
	})
	if err != nil {
		s.logWriteFailure("create", ticket.EventID, vendor, err)
		return nil, err
	}

	s.deps.Detector.Remember(created.EventID, created.ClientName, created.Amount, created.Numbers)
	s.afterWrite(ctx, created.EventID, vendor)
	s.log.Info("Ticket created",
		zap.String("ticket_id", created.ID),
		zap.String("event_id", created.EventID),
		zap.String("vendor", vendor),
		zap.String("numbers", created.Numbers),
	)
	return created, nil
}

func (s *TicketServiceImpl) Update(ctx context.Context, input UpdateTicketInput) (*model.Ticket, error) {
	vendor := normalizeVendor(input.VendorEmail)
	if vendor == "" {
		return nil, fmt.Errorf("vendor email is required: %w", apperrors.ErrInvalidInput)
	}
	var client string
	if input.ClientName != nil {
		client = strings.TrimSpace(*input.ClientName)
		if client == "" {
			return nil, fmt.Errorf("client name is required: %w", apperrors.ErrInvalidInput)
		}
	}
	if input.Amount != nil && *input.Amount < 0 {
		return nil, fmt.Errorf("amount must not be negative: %w", apperrors.ErrInvalidInput)
	}

	var previous model.Ticket
	updated, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) (*model.Ticket, error) {
		var updated *model.Ticket
		err := s.deps.Tx.WithTx(ctx, func(ctx context.Context) error {
			current, err := s.lockOwnedTicket(ctx, input.TicketID, input.EventID, vendor)
			if err != nil {
				return err
			}
			event, err := s.loadOpenEvent(ctx, current.EventID)
			if err != nil {
				return err
			}
			previous = *current

			held := model.Consolidate(current.Rows, nil)
			next := held
			if input.Rows != nil {
				next = model.Consolidate(input.Rows, event.AcceptsNumber)
				if len(next) == 0 {
					return apperrors.ErrNoValidSelections
				}
			}
			if err := s.deps.Quotas.Apply(ctx, current.EventID, model.Diff(next, held)); err != nil {
				return err
			}

			current.Rows = model.RowsFromDeltas(next)
			current.Numbers = model.NumbersSummary(next)
			if input.ClientName != nil {
				current.ClientName = client
			}
			if input.Amount != nil {
				current.Amount = *input.Amount
			}
			updated, err = s.deps.Tickets.Update(ctx, current)
			return err
		})
		return updated, err
	})
	if err != nil {
		s.logWriteFailure("update", input.EventID, vendor, err)
		return nil, err
	}

	s.deps.Detector.Forget(previous.EventID, previous.ClientName, previous.Amount, previous.Numbers)
	s.afterWrite(ctx, updated.EventID, normalizeVendor(updated.VendorEmail))
	s.log.Info("Ticket updated",
		zap.String("ticket_id", updated.ID),
		zap.String("event_id", updated.EventID),
		zap.String("numbers", updated.Numbers),
	)
	return updated, nil
}

func (s *TicketServiceImpl) Delete(ctx context.Context, ticketID, eventID, vendorEmail string) error {
	vendor := normalizeVendor(vendorEmail)
	if vendor == "" {
		return fmt.Errorf("vendor email is required: %w", apperrors.ErrInvalidInput)
	}

	var deleted model.Ticket
	err := s.deps.Retry.Do(ctx, func(ctx context.Context) error {
		return s.deps.Tx.WithTx(ctx, func(ctx context.Context) error {
			current, err := s.lockOwnedTicket(ctx, ticketID, eventID, vendor)
			if err != nil {
				return err
			}
			if _, err := s.loadOpenEvent(ctx, current.EventID); err != nil {
				return err
			}
			held := model.Consolidate(current.Rows, nil)
			if len(held) > 0 {
				if err := s.deps.Quotas.Release(ctx, current.EventID, held); err != nil {
					return err
				}
			}
			deleted = *current
			return s.deps.Tickets.Delete(ctx, current.ID)
		})
	})
	if err != nil {
		s.logWriteFailure("delete", eventID, vendor, err)
		return err
	}

	s.deps.Detector.Forget(deleted.EventID, deleted.ClientName, deleted.Amount, deleted.Numbers)
	s.afterWrite(ctx, deleted.EventID, normalizeVendor(deleted.VendorEmail))
	s.log.Info("Ticket deleted",
		zap.String("ticket_id", deleted.ID),
		zap.String("event_id", deleted.EventID),
	)
	return nil
}

// lockOwnedTicket 鎖定票券並確認屬於該活動與販售員
func (s *TicketServiceImpl) lockOwnedTicket(ctx context.Context, ticketID, eventID, vendor string) (*model.Ticket, error) {
	ticket, err := s.deps.Tickets.FindByIDForUpdate(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if eventID != "" && ticket.EventID != eventID {
		return nil, apperrors.ErrTicketNotFound
	}
	if !ticket.IsOwnedBy(vendor) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, apperrors.ErrOwnershipViolation)
	}
	return ticket, nil
}

// afterWrite commit 之後執行，不受呼叫端取消影響
func (s *TicketServiceImpl) afterWrite(ctx context.Context, eventID, vendor string) {
	bg := context.WithoutCancel(ctx)
	key := TicketsKey(eventID, vendor)

	s.deps.TicketCache.Delete(key)
	s.deps.QuotaCache.Delete(eventID)

	if tickets, err := s.deps.Tickets.ListByEventAndVendor(bg, eventID, vendor); err == nil {
		s.saveSnapshot(bg, eventID, vendor, tickets)
	} else {
		s.log.Warn("Snapshot refresh skipped", zap.String("event_id", eventID), zap.Error(err))
	}

	s.deps.Hub.Publish(bg, notify.Signal{Kind: notify.KindTickets, Key: key})
	s.deps.Hub.Publish(bg, notify.Signal{Kind: notify.KindQuotas, Key: eventID})
}

func (s *TicketServiceImpl) saveSnapshot(ctx context.Context, eventID, vendor string, tickets []*model.Ticket) {
	if err := s.deps.Snapshots.SaveTickets(ctx, eventID, vendor, tickets); err != nil {
		s.log.Warn("Failed to save ticket snapshot",
			zap.String("event_id", eventID),
			zap.String("vendor", vendor),
			zap.Error(err),
		)
	}
}

func (s *TicketServiceImpl) logWriteFailure(op, eventID, vendor string, err error) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("event_id", eventID),
		zap.String("vendor", vendor),
		zap.Error(err),
	}
	var capErr *apperrors.CapacityExceededError
	switch {
	case errors.As(err, &capErr):
		s.log.Info("Ticket rejected: capacity exceeded", append(fields,
			zap.String("number", capErr.Number),
			zap.Int("requested", capErr.Requested),
			zap.Int("remaining", capErr.Remaining),
		)...)
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		s.log.Error("Ticket write failed: store unavailable", fields...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Info("Ticket write cancelled", fields...)
	default:
		s.log.Warn("Ticket write rejected", fields...)
	}
}

func (s *TicketServiceImpl) GetTicketsForVendor(ctx context.Context, eventID, vendorEmail string) (*model.TicketList, error) {
	vendor := normalizeVendor(vendorEmail)
	if vendor == "" {
		return nil, fmt.Errorf("vendor email is required: %w", apperrors.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := TicketsKey(eventID, vendor)
	if tickets, ok := s.deps.TicketCache.Get(key); ok {
		return &model.TicketList{Tickets: tickets}, nil
	}

	tickets, err := retryValue(ctx, s.deps.Retry, func(ctx context.Context) ([]*model.Ticket, error) {
		return s.deps.Tickets.ListByEventAndVendor(ctx, eventID, vendor)
	})
	if err == nil {
		s.deps.TicketCache.Set(key, tickets)
		s.saveSnapshot(context.WithoutCancel(ctx), eventID, vendor, tickets)
		return &model.TicketList{Tickets: tickets}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		return nil, err
	}

	snapshot, ok, snapErr := s.deps.Snapshots.LoadTickets(ctx, eventID, vendor)
	if snapErr != nil || !ok {
		if snapErr != nil {
			s.log.Warn("Failed to load ticket snapshot", zap.String("event_id", eventID), zap.Error(snapErr))
		}
		return nil, err
	}
	s.log.Warn("Serving stale ticket snapshot",
		zap.String("event_id", eventID),
		zap.String("vendor", vendor),
		zap.Error(err),
	)
	return &model.TicketList{Tickets: snapshot, Stale: true}, nil
}
