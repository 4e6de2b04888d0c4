package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

type MockProductSource struct {
	mock.Mock
}

type MockCustomerSource struct {
	mock.Mock
}

type MockOrderSink struct {
	mock.Mock
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockProductSource) ListProducts(ctx context.Context) ([]domain.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Product), args.Error(1)
}

func (m *MockCustomerSource) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Customer), args.Error(1)
}

func (m *MockOrderSink) CreateOrder(ctx context.Context, payload domain.OrderPayload) (domain.OrderConfirmation, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(domain.OrderConfirmation), args.Error(1)
}

func (m *MockPublisher) PublishOrderSubmitted(ctx context.Context, event domain.OrderSubmittedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
