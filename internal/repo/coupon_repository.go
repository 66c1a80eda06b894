package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// CouponRepository интерфейс для работы с купонами и их выдачами
type CouponRepository interface {
	GetCoupon(ctx context.Context, couponID uint) (*entity.Coupon, error)
	DecrementRemaining(ctx context.Context, couponID uint) (int, error)
	RestoreRemaining(ctx context.Context, couponID uint) error
	CreateGrant(ctx context.Context, grant *entity.CouponGrant) error
	GetGrant(ctx context.Context, userID, couponID uint) (*entity.CouponGrant, error)
	UpdateGrantStatus(ctx context.Context, grantID uint, from, to entity.CouponGrantStatus) error
}

// ErrCouponNotFound ошибка, когда купон не найден
var ErrCouponNotFound = errors.New("купон не найден")

// ErrGrantNotFound ошибка, когда выдача купона не найдена
var ErrGrantNotFound = errors.New("выдача купона не найдена")

// ErrCouponExhausted ошибка, когда остаток купонов исчерпан
var ErrCouponExhausted = errors.New("купоны закончились")

// ErrCouponConflict ошибка конкурентного изменения купона, запись можно повторить
var ErrCouponConflict = errors.New("конфликт версий при списании купона")

// ErrGrantAlreadyExists ошибка повторной выдачи купона тому же пользователю
var ErrGrantAlreadyExists = errors.New("купон уже выдан пользователю")

// ErrGrantStateConflict ошибка, когда статус выдачи уже изменен другой операцией
var ErrGrantStateConflict = errors.New("статус выдачи купона уже изменен")

// CouponRepositoryImpl реализация репозитория купонов
type CouponRepositoryImpl struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &CouponRepositoryImpl{
		db: db,
	}
}

// GetCoupon возвращает купон по идентификатору
func (r *CouponRepositoryImpl) GetCoupon(ctx context.Context, couponID uint) (*entity.Coupon, error) {
	var coupon entity.Coupon
	if err := r.db.WithContext(ctx).First(&coupon, couponID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

// DecrementRemaining уменьшает остаток купонов на единицу. Запись условная:
// применяется только если версия строки не изменилась с момента чтения,
// иначе возвращается ErrCouponConflict и вызывающий повторяет попытку.
// Возвращает остаток после списания.
func (r *CouponRepositoryImpl) DecrementRemaining(ctx context.Context, couponID uint) (int, error) {
	var coupon entity.Coupon
	if err := r.db.WithContext(ctx).First(&coupon, couponID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrCouponNotFound
		}
		return 0, err
	}

	if coupon.RemainingQty <= 0 {
		return 0, ErrCouponExhausted
	}

	result := r.db.WithContext(ctx).Model(&entity.Coupon{}).
		Where("id = ? AND version = ? AND remaining_qty > 0", couponID, coupon.Version).
		Updates(map[string]interface{}{
			"remaining_qty": gorm.Expr("remaining_qty - 1"),
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrCouponConflict
	}

	return coupon.RemainingQty - 1, nil
}

// RestoreRemaining возвращает единицу в остаток купонов. Запись безусловная,
// используется при откате неудачной выдачи.
func (r *CouponRepositoryImpl) RestoreRemaining(ctx context.Context, couponID uint) error {
	result := r.db.WithContext(ctx).Model(&entity.Coupon{}).
		Where("id = ?", couponID).
		Updates(map[string]interface{}{
			"remaining_qty": gorm.Expr("remaining_qty + 1"),
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCouponNotFound
	}
	return nil
}

// CreateGrant создает запись о выдаче купона пользователю. Уникальный индекс
// по паре пользователь плюс купон страхует от двойной выдачи.
func (r *CouponRepositoryImpl) CreateGrant(ctx context.Context, grant *entity.CouponGrant) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(grant)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrGrantAlreadyExists
	}
	return nil
}

// GetGrant возвращает выдачу купона по пользователю и купону
func (r *CouponRepositoryImpl) GetGrant(ctx context.Context, userID, couponID uint) (*entity.CouponGrant, error) {
	var grant entity.CouponGrant
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		First(&grant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return &grant, nil
}

// UpdateGrantStatus переводит выдачу из статуса from в статус to. Перевод
// условный: если статус уже не from, возвращается ErrGrantStateConflict.
func (r *CouponRepositoryImpl) UpdateGrantStatus(ctx context.Context, grantID uint, from, to entity.CouponGrantStatus) error {
	result := r.db.WithContext(ctx).Model(&entity.CouponGrant{}).
		Where("id = ? AND status = ?", grantID, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrGrantStateConflict
	}
	return nil
}
