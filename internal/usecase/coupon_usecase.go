package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
	apperrors "github.com/director74/shop_fulfillment/pkg/errors"
	"github.com/director74/shop_fulfillment/pkg/redislock"
	"github.com/director74/shop_fulfillment/pkg/retry"
)

// Коды причин отказа в ответах API купонов
const (
	ReasonCouponNotFound      = "COUPON_NOT_FOUND"
	ReasonExhausted           = "EXHAUSTED"
	ReasonOutOfValidityWindow = "OUT_OF_VALIDITY_WINDOW"
	ReasonAlreadyIssued       = "ALREADY_ISSUED"
	ReasonInactive            = "INACTIVE"
)

// CouponUseCase реализует выдачу купонов под эксклюзивной блокировкой.
// Блокировка по купону сериализует конкурентные запросы, поэтому при
// остатке R успевают ровно первые R запросивших.
type CouponUseCase struct {
	couponRepo  repo.CouponRepository
	locker      CouponLocker
	retryPolicy retry.Policy
	lockWait    time.Duration
	lockLease   time.Duration
}

func NewCouponUseCase(couponRepo repo.CouponRepository, locker CouponLocker, retryPolicy retry.Policy, lockWait, lockLease time.Duration) *CouponUseCase {
	return &CouponUseCase{
		couponRepo:  couponRepo,
		locker:      locker,
		retryPolicy: retryPolicy,
		lockWait:    lockWait,
		lockLease:   lockLease,
	}
}

// IssueCoupon выдает купон пользователю. Проверка повторной выдачи выполняется
// до списания остатка, чтобы отказ не оставлял счетчик списанным без выдачи.
func (uc *CouponUseCase) IssueCoupon(ctx context.Context, userID, couponID uint) (entity.GrantResponse, error) {
	lock, err := uc.locker.Acquire(ctx, strconv.FormatUint(uint64(couponID), 10), uc.lockWait, uc.lockLease)
	if err != nil {
		if errors.Is(err, redislock.ErrNotAcquired) {
			return entity.GrantResponse{}, apperrors.NewConflictError("купон занят другим запросом, повторите позже", err)
		}
		return entity.GrantResponse{}, apperrors.NewInternalServerError(err)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.Printf("[Coupon] Не удалось снять блокировку купона %d: %v", couponID, err)
		}
	}()

	coupon, err := uc.couponRepo.GetCoupon(ctx, couponID)
	if err != nil {
		if errors.Is(err, repo.ErrCouponNotFound) {
			return entity.GrantResponse{}, apperrors.NewServiceError(http.StatusNotFound, ReasonCouponNotFound, fmt.Sprintf("купон %d не найден", couponID), err)
		}
		return entity.GrantResponse{}, apperrors.NewInternalServerError(err)
	}
	if !coupon.IsActive {
		return entity.GrantResponse{}, apperrors.NewBusinessError(ReasonInactive, fmt.Sprintf("купон %d деактивирован", couponID), nil)
	}
	if !coupon.WithinWindow(time.Now()) {
		return entity.GrantResponse{}, apperrors.NewBusinessError(ReasonOutOfValidityWindow, fmt.Sprintf("купон %d вне срока действия", couponID), nil)
	}

	if _, err := uc.couponRepo.GetGrant(ctx, userID, couponID); err == nil {
		return entity.GrantResponse{}, apperrors.NewBusinessError(ReasonAlreadyIssued, fmt.Sprintf("купон %d уже выдан пользователю", couponID), nil)
	} else if !errors.Is(err, repo.ErrGrantNotFound) {
		return entity.GrantResponse{}, apperrors.NewInternalServerError(err)
	}

	// Конфликт версий возможен и под блокировкой: безусловные возвраты
	// остатка при отмене заказа идут мимо нее
	err = uc.retryPolicy.Do(ctx, func() error {
		_, decErr := uc.couponRepo.DecrementRemaining(ctx, couponID)
		return decErr
	}, func(err error) bool {
		return errors.Is(err, repo.ErrCouponConflict)
	})
	if err != nil {
		if errors.Is(err, repo.ErrCouponExhausted) {
			return entity.GrantResponse{}, apperrors.NewBusinessError(ReasonExhausted, fmt.Sprintf("купоны %d закончились", couponID), err)
		}
		if errors.Is(err, repo.ErrCouponConflict) {
			return entity.GrantResponse{}, apperrors.NewConflictError("", err)
		}
		return entity.GrantResponse{}, apperrors.NewInternalServerError(err)
	}

	grant := &entity.CouponGrant{
		UserID:    userID,
		CouponID:  couponID,
		Status:    entity.CouponGrantStatusUnused,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := uc.couponRepo.CreateGrant(ctx, grant); err != nil {
		// Списание уже применилось, возвращаем единицу обратно
		if restoreErr := uc.couponRepo.RestoreRemaining(ctx, couponID); restoreErr != nil {
			log.Printf("[CRITICAL] Не удалось вернуть остаток купона %d после неудачной выдачи: %v", couponID, restoreErr)
		}
		if errors.Is(err, repo.ErrGrantAlreadyExists) {
			return entity.GrantResponse{}, apperrors.NewBusinessError(ReasonAlreadyIssued, fmt.Sprintf("купон %d уже выдан пользователю", couponID), err)
		}
		return entity.GrantResponse{}, apperrors.NewInternalServerError(err)
	}

	log.Printf("[Coupon] Купон %d выдан пользователю %d", couponID, userID)
	return toGrantResponse(grant, coupon), nil
}

// GetGrant возвращает выдачу купона пользователю
func (uc *CouponUseCase) GetGrant(ctx context.Context, userID, couponID uint) (entity.GrantResponse, error) {
	grant, err := uc.couponRepo.GetGrant(ctx, userID, couponID)
	if err != nil {
		if errors.Is(err, repo.ErrGrantNotFound) {
			return entity.GrantResponse{}, apperrors.NewNotFoundError("Выдача купона", couponID)
		}
		return entity.GrantResponse{}, apperrors.NewInternalServerError(err)
	}

	coupon, err := uc.couponRepo.GetCoupon(ctx, couponID)
	if err != nil {
		return entity.GrantResponse{}, apperrors.NewInternalServerError(err)
	}

	return toGrantResponse(grant, coupon), nil
}

func toGrantResponse(grant *entity.CouponGrant, coupon *entity.Coupon) entity.GrantResponse {
	return entity.GrantResponse{
		ID:             grant.ID,
		UserID:         grant.UserID,
		CouponID:       grant.CouponID,
		CouponName:     coupon.Name,
		DiscountAmount: coupon.DiscountAmount,
		Status:         grant.Status,
		CreatedAt:      grant.CreatedAt,
	}
}
