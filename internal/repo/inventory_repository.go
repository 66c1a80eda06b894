package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// InventoryRepository интерфейс счетчика остатков с оптимистичной блокировкой
type InventoryRepository interface {
	DeductStock(ctx context.Context, optionID uint, qty int) (int, error)
	RestoreStock(ctx context.Context, optionID uint, qty int) error
}

// ErrInsufficientStock ошибка, когда остатка недостаточно для списания
var ErrInsufficientStock = errors.New("недостаточно товара на складе")

// ErrStockConflict ошибка конкурентного изменения остатка, запись можно повторить
var ErrStockConflict = errors.New("конфликт версий при списании остатка")

// InventoryRepositoryImpl реализация складского счетчика на GORM
type InventoryRepositoryImpl struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &InventoryRepositoryImpl{
		db: db,
	}
}

// DeductStock списывает qty единиц с варианта товара. Запись условная:
// применяется только если версия строки не изменилась с момента чтения,
// иначе возвращается ErrStockConflict и вызывающий повторяет попытку.
// Возвращает остаток после списания.
func (r *InventoryRepositoryImpl) DeductStock(ctx context.Context, optionID uint, qty int) (int, error) {
	var option entity.ProductOption
	if err := r.db.WithContext(ctx).First(&option, optionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrOptionNotFound
		}
		return 0, err
	}

	if option.Stock < qty {
		return 0, ErrInsufficientStock
	}

	result := r.db.WithContext(ctx).Model(&entity.ProductOption{}).
		Where("id = ? AND version = ?", optionID, option.Version).
		Updates(map[string]interface{}{
			"stock":   gorm.Expr("stock - ?", qty),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrStockConflict
	}

	return option.Stock - qty, nil
}

// RestoreStock возвращает qty единиц на остаток. Запись безусловная:
// увеличение остатка безопасно при любой конкуренции, используется
// компенсацией и отменой заказа.
func (r *InventoryRepositoryImpl) RestoreStock(ctx context.Context, optionID uint, qty int) error {
	result := r.db.WithContext(ctx).Model(&entity.ProductOption{}).
		Where("id = ?", optionID).
		Updates(map[string]interface{}{
			"stock":   gorm.Expr("stock + ?", qty),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptionNotFound
	}
	return nil
}
