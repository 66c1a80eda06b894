package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/director74/shop_fulfillment/internal/entity"
)

func TestCompensationHandlerPublishesAlert(t *testing.T) {
	mockRabbit := new(MockRabbitMQ)

	mockRabbit.On("PublishMessageWithRetry", "alerts", "alert.compensation.deduct_inventory", mock.MatchedBy(func(alert CompensationAlert) bool {
		return alert.UserID == 1 && alert.FailedStep == "deduct_inventory" && !alert.Critical
	}), 3).Return(nil).Once()

	handler := NewAlertingCompensationHandler(mockRabbit, "alerts")
	sctx := createTestSagaContext()
	sctx.ExecutedSteps = []string{"deduct_inventory"}

	handler.HandleFailure(context.Background(), "deduct_inventory", errors.New("БД недоступна"), sctx)

	mockRabbit.AssertExpectations(t)
}

func TestCompensationHandlerMarksMoneyFailuresCritical(t *testing.T) {
	mockRabbit := new(MockRabbitMQ)

	// Невозвращенные деньги помечаются критичными
	mockRabbit.On("PublishMessageWithRetry", "alerts", "alert.compensation.deduct_balance", mock.MatchedBy(func(alert CompensationAlert) bool {
		return alert.Critical && alert.OrderID == 10 && alert.Error == "счет заблокирован"
	}), 3).Return(nil).Once()
	mockRabbit.On("PublishMessageWithRetry", "alerts", "alert.compensation.cancel_restore_balance", mock.MatchedBy(func(alert CompensationAlert) bool {
		return alert.Critical
	}), 3).Return(nil).Once()

	handler := NewAlertingCompensationHandler(mockRabbit, "alerts")
	sctx := createTestSagaContext()
	sctx.Order = &entity.Order{ID: 10}
	sctx.ExecutedSteps = []string{"deduct_inventory", "deduct_balance"}

	handler.HandleFailure(context.Background(), "deduct_balance", errors.New("счет заблокирован"), sctx)
	handler.HandleFailure(context.Background(), "cancel_restore_balance", errors.New("счет заблокирован"), sctx)

	mockRabbit.AssertExpectations(t)
}

func TestCompensationHandlerSurvivesPublishError(t *testing.T) {
	mockRabbit := new(MockRabbitMQ)

	mockRabbit.On("PublishMessageWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("брокер недоступен")).Once()

	handler := NewAlertingCompensationHandler(mockRabbit, "alerts")

	// Ошибка публикации алерта не паникует и не пробрасывается
	assert.NotPanics(t, func() {
		handler.HandleFailure(context.Background(), "use_coupon", errors.New("конфликт"), createTestSagaContext())
	})
}

func TestCompensationHandlerWithoutBroker(t *testing.T) {
	handler := NewAlertingCompensationHandler(nil, "alerts")

	assert.NotPanics(t, func() {
		handler.HandleFailure(context.Background(), "deduct_balance", errors.New("конфликт"), createTestSagaContext())
	})
}
