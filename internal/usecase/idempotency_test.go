package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/director74/shop_fulfillment/internal/entity"
)

func TestIdempotencyBeginNewToken(t *testing.T) {
	mockRepo := new(MockIdempotencyRepository)

	mockRepo.On("Insert", mock.Anything, mock.MatchedBy(func(record *entity.IdempotencyRecord) bool {
		return record.Token == "tok-1" && record.Operation == "create_order" && record.Status == entity.IdempotencyStatusPending
	})).Return(true, nil).Once()

	service := NewIdempotencyService(mockRepo)

	result, err := service.Begin(context.Background(), "tok-1", "create_order")

	assert.NoError(t, err)
	assert.True(t, result.IsNew)
	assert.Nil(t, result.PriorOrderID)
	mockRepo.AssertNotCalled(t, "GetByToken", mock.Anything, mock.Anything)
}

func TestIdempotencyBeginCompletedTokenReturnsPriorOrder(t *testing.T) {
	mockRepo := new(MockIdempotencyRepository)

	orderID := uint(10)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(false, nil).Once()
	mockRepo.On("GetByToken", mock.Anything, "tok-1").Return(&entity.IdempotencyRecord{
		Token:         "tok-1",
		Status:        entity.IdempotencyStatusCompleted,
		ResultOrderID: &orderID,
	}, nil).Once()

	service := NewIdempotencyService(mockRepo)

	result, err := service.Begin(context.Background(), "tok-1", "create_order")

	assert.NoError(t, err)
	assert.False(t, result.IsNew)
	assert.NotNil(t, result.PriorOrderID)
	assert.Equal(t, uint(10), *result.PriorOrderID)
}

func TestIdempotencyBeginPendingTokenInProgress(t *testing.T) {
	mockRepo := new(MockIdempotencyRepository)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(false, nil).Once()
	mockRepo.On("GetByToken", mock.Anything, "tok-1").Return(&entity.IdempotencyRecord{
		Token:  "tok-1",
		Status: entity.IdempotencyStatusPending,
	}, nil).Once()
	mockRepo.On("IncrementRetry", mock.Anything, "tok-1").Return(nil).Once()

	service := NewIdempotencyService(mockRepo)

	_, err := service.Begin(context.Background(), "tok-1", "create_order")

	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperationInProgress))
	mockRepo.AssertExpectations(t)
}

func TestIdempotencyBeginFailedTokenReactivates(t *testing.T) {
	mockRepo := new(MockIdempotencyRepository)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(false, nil).Once()
	mockRepo.On("GetByToken", mock.Anything, "tok-1").Return(&entity.IdempotencyRecord{
		Token:  "tok-1",
		Status: entity.IdempotencyStatusFailed,
	}, nil).Once()
	mockRepo.On("Reactivate", mock.Anything, "tok-1").Return(true, nil).Once()

	service := NewIdempotencyService(mockRepo)

	result, err := service.Begin(context.Background(), "tok-1", "create_order")

	assert.NoError(t, err)
	assert.True(t, result.IsNew)
}

func TestIdempotencyBeginReactivationLostRace(t *testing.T) {
	mockRepo := new(MockIdempotencyRepository)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(false, nil).Once()
	mockRepo.On("GetByToken", mock.Anything, "tok-1").Return(&entity.IdempotencyRecord{
		Token:  "tok-1",
		Status: entity.IdempotencyStatusFailed,
	}, nil).Once()
	// Конкурирующий запрос активировал запись первым
	mockRepo.On("Reactivate", mock.Anything, "tok-1").Return(false, nil).Once()

	service := NewIdempotencyService(mockRepo)

	_, err := service.Begin(context.Background(), "tok-1", "create_order")

	assert.True(t, errors.Is(err, ErrOperationInProgress))
}

func TestIdempotencyBeginInsertError(t *testing.T) {
	mockRepo := new(MockIdempotencyRepository)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(false, errors.New("БД недоступна")).Once()

	service := NewIdempotencyService(mockRepo)

	_, err := service.Begin(context.Background(), "tok-1", "create_order")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ошибка при регистрации операции")
}

func TestIdempotencyCompleteAndFail(t *testing.T) {
	mockRepo := new(MockIdempotencyRepository)

	mockRepo.On("MarkCompleted", mock.Anything, "tok-1", uint(10)).Return(nil).Once()
	mockRepo.On("MarkFailed", mock.Anything, "tok-2").Return(nil).Once()

	service := NewIdempotencyService(mockRepo)

	assert.NoError(t, service.Complete(context.Background(), "tok-1", 10))
	assert.NoError(t, service.Fail(context.Background(), "tok-2"))
	mockRepo.AssertExpectations(t)
}
