package usecase

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/pkg/redislock"
)

// Мок для CatalogRepository
type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) GetProduct(ctx context.Context, productID uint) (*entity.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Product), args.Error(1)
}

func (m *MockCatalogRepository) GetOption(ctx context.Context, optionID uint) (*entity.ProductOption, error) {
	args := m.Called(ctx, optionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ProductOption), args.Error(1)
}

// Мок для InventoryRepository
type MockInventoryRepository struct {
	mock.Mock
}

func (m *MockInventoryRepository) DeductStock(ctx context.Context, optionID uint, qty int) (int, error) {
	args := m.Called(ctx, optionID, qty)
	return args.Int(0), args.Error(1)
}

func (m *MockInventoryRepository) RestoreStock(ctx context.Context, optionID uint, qty int) error {
	args := m.Called(ctx, optionID, qty)
	return args.Error(0)
}

// Мок для AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetByUserID(ctx context.Context, userID uint) (*entity.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Account), args.Error(1)
}

func (m *MockAccountRepository) DeductBalance(ctx context.Context, userID uint, orderID *uint, amount float64) error {
	args := m.Called(ctx, userID, orderID, amount)
	return args.Error(0)
}

func (m *MockAccountRepository) RestoreBalance(ctx context.Context, userID uint, orderID *uint, amount float64) error {
	args := m.Called(ctx, userID, orderID, amount)
	return args.Error(0)
}

func (m *MockAccountRepository) Deposit(ctx context.Context, userID uint, amount float64) (*entity.Transaction, float64, error) {
	args := m.Called(ctx, userID, amount)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*entity.Transaction), args.Get(1).(float64), args.Error(2)
}

// Мок для CouponRepository
type MockCouponRepository struct {
	mock.Mock
}

func (m *MockCouponRepository) GetCoupon(ctx context.Context, couponID uint) (*entity.Coupon, error) {
	args := m.Called(ctx, couponID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Coupon), args.Error(1)
}

func (m *MockCouponRepository) DecrementRemaining(ctx context.Context, couponID uint) (int, error) {
	args := m.Called(ctx, couponID)
	return args.Int(0), args.Error(1)
}

func (m *MockCouponRepository) RestoreRemaining(ctx context.Context, couponID uint) error {
	args := m.Called(ctx, couponID)
	return args.Error(0)
}

func (m *MockCouponRepository) CreateGrant(ctx context.Context, grant *entity.CouponGrant) error {
	args := m.Called(ctx, grant)
	// Имитируем установку ID, как это делает реальная БД
	if args.Error(0) == nil && grant.ID == 0 {
		grant.ID = 7
	}
	return args.Error(0)
}

func (m *MockCouponRepository) GetGrant(ctx context.Context, userID, couponID uint) (*entity.CouponGrant, error) {
	args := m.Called(ctx, userID, couponID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.CouponGrant), args.Error(1)
}

func (m *MockCouponRepository) UpdateGrantStatus(ctx context.Context, grantID uint, from, to entity.CouponGrantStatus) error {
	args := m.Called(ctx, grantID, from, to)
	return args.Error(0)
}

// Мок для OrderRepository
type MockOrderRepository struct {
	mock.Mock
	CreatedRecords []*entity.OutboxRecord // Записи, построенные внутри CreateWithOutbox
}

func (m *MockOrderRepository) CreateWithOutbox(ctx context.Context, order *entity.Order, buildRecord func(order *entity.Order) (*entity.OutboxRecord, error)) error {
	args := m.Called(ctx, order, buildRecord)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	// Имитируем установку ID для заказа, как это делает реальная БД
	if order.ID == 0 {
		order.ID = 10
	}
	if buildRecord != nil {
		record, err := buildRecord(order)
		if err != nil {
			return err
		}
		m.CreatedRecords = append(m.CreatedRecords, record)
	}
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, orderID uint) (*entity.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Order), args.Error(1)
}

func (m *MockOrderRepository) ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]entity.Order, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]entity.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, orderID uint, from, to entity.OrderStatus) error {
	args := m.Called(ctx, orderID, from, to)
	return args.Error(0)
}

func (m *MockOrderRepository) CancelWithOutbox(ctx context.Context, orderID uint, from entity.OrderStatus, record *entity.OutboxRecord) error {
	args := m.Called(ctx, orderID, from, record)
	return args.Error(0)
}

// Мок для OutboxRepository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, record *entity.OutboxRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockOutboxRepository) FetchPending(ctx context.Context, limit int) ([]entity.OutboxRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.OutboxRecord), args.Error(1)
}

func (m *MockOutboxRepository) MarkPublishing(ctx context.Context, recordID uint) (bool, error) {
	args := m.Called(ctx, recordID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, recordID uint) error {
	args := m.Called(ctx, recordID)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, recordID uint, maxRetries int) (bool, error) {
	args := m.Called(ctx, recordID, maxRetries)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboxRepository) RequeueFailed(ctx context.Context, maxRetries int) (int64, error) {
	args := m.Called(ctx, maxRetries)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) RequeueStuckPublishing(ctx context.Context, stuckAfter time.Duration) (int64, error) {
	args := m.Called(ctx, stuckAfter)
	return args.Get(0).(int64), args.Error(1)
}

// Мок для IdempotencyRepository
type MockIdempotencyRepository struct {
	mock.Mock
}

func (m *MockIdempotencyRepository) Insert(ctx context.Context, record *entity.IdempotencyRecord) (bool, error) {
	args := m.Called(ctx, record)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyRepository) GetByToken(ctx context.Context, token string) (*entity.IdempotencyRecord, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.IdempotencyRecord), args.Error(1)
}

func (m *MockIdempotencyRepository) IncrementRetry(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) MarkCompleted(ctx context.Context, token string, orderID uint) error {
	args := m.Called(ctx, token, orderID)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) MarkFailed(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) Reactivate(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

// Мок для RabbitMQClient
type MockRabbitMQ struct {
	mock.Mock
	PublishHistory []PublishData // История вызовов для проверки
}

type PublishData struct {
	Exchange   string
	RoutingKey string
	Message    interface{}
}

func (m *MockRabbitMQ) PublishMessage(exchange, routingKey string, message interface{}) error {
	args := m.Called(exchange, routingKey, message)
	m.PublishHistory = append(m.PublishHistory, PublishData{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Message:    message,
	})
	return args.Error(0)
}

func (m *MockRabbitMQ) PublishMessageWithRetry(exchange, routingKey string, message interface{}, retries int) error {
	args := m.Called(exchange, routingKey, message, retries)
	m.PublishHistory = append(m.PublishHistory, PublishData{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Message:    message,
	})
	return args.Error(0)
}

// Мок для OutboxNudger
type MockNudger struct {
	mock.Mock
}

func (m *MockNudger) Nudge() {
	m.Called()
}

// Мок для CouponLocker
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (redislock.Lock, error) {
	args := m.Called(ctx, key, wait, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(redislock.Lock), args.Error(1)
}

type MockLock struct {
	mock.Mock
}

func (m *MockLock) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
