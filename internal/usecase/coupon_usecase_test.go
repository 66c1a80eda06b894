package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
	"github.com/director74/shop_fulfillment/pkg/redislock"
)

func createCouponUseCaseTest() (*CouponUseCase, *MockCouponRepository, *MockLocker, *MockLock) {
	mockRepo := new(MockCouponRepository)
	mockLocker := new(MockLocker)
	mockLock := new(MockLock)
	uc := NewCouponUseCase(mockRepo, mockLocker, createTestRetryPolicy(), 100*time.Millisecond, time.Second)
	return uc, mockRepo, mockLocker, mockLock
}

func TestIssueCouponSuccess(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", 100*time.Millisecond, time.Second).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()

	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(createTestCoupon(3, 500), nil).Once()
	mockRepo.On("GetGrant", mock.Anything, uint(1), uint(3)).Return(nil, repo.ErrGrantNotFound).Once()
	mockRepo.On("DecrementRemaining", mock.Anything, uint(3)).Return(49, nil).Once()
	mockRepo.On("CreateGrant", mock.Anything, mock.MatchedBy(func(grant *entity.CouponGrant) bool {
		return grant.UserID == 1 && grant.CouponID == 3 && grant.Status == entity.CouponGrantStatusUnused
	})).Return(nil).Once()

	resp, err := uc.IssueCoupon(context.Background(), 1, 3)

	assert.NoError(t, err)
	assert.Equal(t, uint(7), resp.ID)
	assert.Equal(t, uint(3), resp.CouponID)
	assert.Equal(t, "Скидка постоянному клиенту", resp.CouponName)
	assert.Equal(t, 500.0, resp.DiscountAmount)
	assert.Equal(t, entity.CouponGrantStatusUnused, resp.Status)

	mockRepo.AssertExpectations(t)
	mockLocker.AssertExpectations(t)
	mockLock.AssertExpectations(t)
}

func TestIssueCouponLockBusy(t *testing.T) {
	uc, mockRepo, mockLocker, _ := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", mock.Anything, mock.Anything).Return(nil, redislock.ErrNotAcquired).Once()

	_, err := uc.IssueCoupon(context.Background(), 1, 3)

	assertServiceError(t, err, http.StatusConflict, "CONFLICT")
	// Без блокировки к купону не прикасаемся
	mockRepo.AssertNotCalled(t, "GetCoupon", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "DecrementRemaining", mock.Anything, mock.Anything)
}

func TestIssueCouponNotFound(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "99", mock.Anything, mock.Anything).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()
	mockRepo.On("GetCoupon", mock.Anything, uint(99)).Return(nil, repo.ErrCouponNotFound).Once()

	_, err := uc.IssueCoupon(context.Background(), 1, 99)

	assertServiceError(t, err, http.StatusNotFound, ReasonCouponNotFound)
	// Блокировка снимается и при отказе
	mockLock.AssertExpectations(t)
}

func TestIssueCouponInactive(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", mock.Anything, mock.Anything).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()

	coupon := createTestCoupon(3, 500)
	coupon.IsActive = false
	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(coupon, nil).Once()

	_, err := uc.IssueCoupon(context.Background(), 1, 3)

	assertServiceError(t, err, http.StatusUnprocessableEntity, ReasonInactive)
	mockRepo.AssertNotCalled(t, "DecrementRemaining", mock.Anything, mock.Anything)
}

func TestIssueCouponOutOfValidityWindow(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", mock.Anything, mock.Anything).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()

	coupon := createTestCoupon(3, 500)
	coupon.ValidFrom = time.Now().Add(time.Hour)
	coupon.ValidUntil = time.Now().Add(2 * time.Hour)
	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(coupon, nil).Once()

	_, err := uc.IssueCoupon(context.Background(), 1, 3)

	assertServiceError(t, err, http.StatusUnprocessableEntity, ReasonOutOfValidityWindow)
	mockRepo.AssertNotCalled(t, "DecrementRemaining", mock.Anything, mock.Anything)
}

func TestIssueCouponAlreadyIssuedCheckedBeforeDecrement(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", mock.Anything, mock.Anything).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()

	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(createTestCoupon(3, 500), nil).Once()
	mockRepo.On("GetGrant", mock.Anything, uint(1), uint(3)).Return(createTestGrant(7, 1, 3, entity.CouponGrantStatusUnused), nil).Once()

	_, err := uc.IssueCoupon(context.Background(), 1, 3)

	assertServiceError(t, err, http.StatusUnprocessableEntity, ReasonAlreadyIssued)
	// Повторная выдача отклонена до списания, остаток не трогался
	mockRepo.AssertNotCalled(t, "DecrementRemaining", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "RestoreRemaining", mock.Anything, mock.Anything)
}

func TestIssueCouponExhausted(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", mock.Anything, mock.Anything).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()

	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(createTestCoupon(3, 500), nil).Once()
	mockRepo.On("GetGrant", mock.Anything, uint(1), uint(3)).Return(nil, repo.ErrGrantNotFound).Once()
	mockRepo.On("DecrementRemaining", mock.Anything, uint(3)).Return(0, repo.ErrCouponExhausted).Once()

	_, err := uc.IssueCoupon(context.Background(), 1, 3)

	assertServiceError(t, err, http.StatusUnprocessableEntity, ReasonExhausted)

	// Исчерпание окончательно, повторных попыток и выдачи нет
	mockRepo.AssertNumberOfCalls(t, "DecrementRemaining", 1)
	mockRepo.AssertNotCalled(t, "CreateGrant", mock.Anything, mock.Anything)
	mockLock.AssertExpectations(t)
}

func TestIssueCouponRetriesVersionConflict(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", mock.Anything, mock.Anything).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()

	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(createTestCoupon(3, 500), nil).Once()
	mockRepo.On("GetGrant", mock.Anything, uint(1), uint(3)).Return(nil, repo.ErrGrantNotFound).Once()
	// Возврат остатка при отмене заказа идет мимо блокировки и меняет версию
	mockRepo.On("DecrementRemaining", mock.Anything, uint(3)).Return(0, repo.ErrCouponConflict).Once()
	mockRepo.On("DecrementRemaining", mock.Anything, uint(3)).Return(49, nil).Once()
	mockRepo.On("CreateGrant", mock.Anything, mock.Anything).Return(nil).Once()

	resp, err := uc.IssueCoupon(context.Background(), 1, 3)

	assert.NoError(t, err)
	assert.Equal(t, uint(3), resp.CouponID)
	mockRepo.AssertNumberOfCalls(t, "DecrementRemaining", 2)
}

func TestIssueCouponGrantFailureRestoresRemaining(t *testing.T) {
	uc, mockRepo, mockLocker, mockLock := createCouponUseCaseTest()

	mockLocker.On("Acquire", mock.Anything, "3", mock.Anything, mock.Anything).Return(mockLock, nil).Once()
	mockLock.On("Release", mock.Anything).Return(nil).Once()

	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(createTestCoupon(3, 500), nil).Once()
	mockRepo.On("GetGrant", mock.Anything, uint(1), uint(3)).Return(nil, repo.ErrGrantNotFound).Once()
	mockRepo.On("DecrementRemaining", mock.Anything, uint(3)).Return(49, nil).Once()
	mockRepo.On("CreateGrant", mock.Anything, mock.Anything).Return(repo.ErrGrantAlreadyExists).Once()
	// Списание уже применилось, единица возвращается в остаток
	mockRepo.On("RestoreRemaining", mock.Anything, uint(3)).Return(nil).Once()

	_, err := uc.IssueCoupon(context.Background(), 1, 3)

	assertServiceError(t, err, http.StatusUnprocessableEntity, ReasonAlreadyIssued)
	mockRepo.AssertExpectations(t)
}

func TestGetGrantSuccess(t *testing.T) {
	uc, mockRepo, _, _ := createCouponUseCaseTest()

	mockRepo.On("GetGrant", mock.Anything, uint(1), uint(3)).Return(createTestGrant(7, 1, 3, entity.CouponGrantStatusUsed), nil).Once()
	mockRepo.On("GetCoupon", mock.Anything, uint(3)).Return(createTestCoupon(3, 500), nil).Once()

	resp, err := uc.GetGrant(context.Background(), 1, 3)

	assert.NoError(t, err)
	assert.Equal(t, uint(7), resp.ID)
	assert.Equal(t, entity.CouponGrantStatusUsed, resp.Status)
	assert.Equal(t, 500.0, resp.DiscountAmount)
}

func TestGetGrantNotFound(t *testing.T) {
	uc, mockRepo, _, _ := createCouponUseCaseTest()

	mockRepo.On("GetGrant", mock.Anything, uint(1), uint(3)).Return(nil, repo.ErrGrantNotFound).Once()

	_, err := uc.GetGrant(context.Background(), 1, 3)

	assertServiceError(t, err, http.StatusNotFound, "NOT_FOUND")
}
