package services

import (
	"context"

	"numix-engine/internal/model"
	"numix-engine/internal/service"

	"github.com/stretchr/testify/mock"
)

type TicketServiceMock struct {
	mock.Mock
}

func NewTicketServiceMock() *TicketServiceMock {
	return &TicketServiceMock{}
}

func (m *TicketServiceMock) Create(ctx context.Context, input service.CreateTicketInput) (*model.Ticket, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Ticket), args.Error(1)
}

func (m *TicketServiceMock) Update(ctx context.Context, input service.UpdateTicketInput) (*model.Ticket, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Ticket), args.Error(1)
}

func (m *TicketServiceMock) Delete(ctx context.Context, ticketID, eventID, vendorEmail string) error {
	args := m.Called(ctx, ticketID, eventID, vendorEmail)
	return args.Error(0)
}

func (m *TicketServiceMock) GetTicketsForVendor(ctx context.Context, eventID, vendorEmail string) (*model.TicketList, error) {
	args := m.Called(ctx, eventID, vendorEmail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TicketList), args.Error(1)
}
