package main

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockOrderRepository para testes que não precisam de banco real
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) GetVariantsForSale(ctx context.Context, variantIDs []string) (map[string]*Variant, error) {
	args := m.Called(ctx, variantIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*Variant), args.Error(1)
}

func (m *MockOrderRepository) CreateOrder(ctx context.Context, order *Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) SetOrderPreference(ctx context.Context, orderID, preferenceID string) error {
	args := m.Called(ctx, orderID, preferenceID)
	return args.Error(0)
}

func (m *MockOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockOrderRepository) GetOrdersByBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

func (m *MockOrderRepository) MarkOrderPaid(ctx context.Context, tx Tx, orderID string, paidAt time.Time) (bool, error) {
	args := m.Called(ctx, tx, orderID, paidAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) DecrementStock(ctx context.Context, tx Tx, variantID string, quantity int, orderID string) error {
	args := m.Called(ctx, tx, variantID, quantity, orderID)
	return args.Error(0)
}

func (m *MockOrderRepository) RecordPaymentTransaction(ctx context.Context, txn *PaymentTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockOrderRepository) HasPaymentTransaction(ctx context.Context, orderID, paymentID string) (bool, error) {
	args := m.Called(ctx, orderID, paymentID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) BeginTx(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Tx), args.Error(1)
}

// MockTx simula uma transação do banco
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func TestNewOrderRepository(t *testing.T) {
	// Arrange
	var db *pgxpool.Pool // Mock pool

	// Act
	repo := NewOrderRepository(db)

	// Assert
	assert.NotNil(t, repo)
	assert.IsType(t, &PostgresOrderRepository{}, repo)
}

func TestMockOrderRepository_CreateOrder(t *testing.T) {
	// Arrange
	mockRepo := new(MockOrderRepository)
	ctx := context.Background()
	order := NewOrder("buyer-456", []OrderItem{
		{VariantID: "variant-1", Quantity: 2, UnitPrice: 5000},
	}, 10000, PaymentMethodCheckoutPro, BuyerData{Email: "ana@example.com"})

	mockRepo.On("CreateOrder", ctx, order).Return(nil)

	// Act
	err := mockRepo.CreateOrder(ctx, order)

	// Assert
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestMockOrderRepository_MarkOrderPaid(t *testing.T) {
	// Arrange: a primeira transição responde true, a reentrega false
	mockRepo := new(MockOrderRepository)
	mockTx := new(MockTx)
	ctx := context.Background()
	orderID := "order-123"
	paidAt := time.Now()

	mockRepo.On("MarkOrderPaid", ctx, mockTx, orderID, paidAt).Return(true, nil).Once()
	mockRepo.On("MarkOrderPaid", ctx, mockTx, orderID, paidAt).Return(false, nil).Once()

	// Act
	first, err1 := mockRepo.MarkOrderPaid(ctx, mockTx, orderID, paidAt)
	second, err2 := mockRepo.MarkOrderPaid(ctx, mockTx, orderID, paidAt)

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.True(t, first)
	assert.False(t, second)
	mockRepo.AssertExpectations(t)
}

func TestMockOrderRepository_HasPaymentTransaction(t *testing.T) {
	// Arrange
	mockRepo := new(MockOrderRepository)
	ctx := context.Background()

	mockRepo.On("HasPaymentTransaction", ctx, "order-123", "payment-456").Return(true, nil)

	// Act
	exists, err := mockRepo.HasPaymentTransaction(ctx, "order-123", "payment-456")

	// Assert
	assert.NoError(t, err)
	assert.True(t, exists)
	mockRepo.AssertExpectations(t)
}
