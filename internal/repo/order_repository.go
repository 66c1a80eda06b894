package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// OrderRepository интерфейс для работы с заказами
type OrderRepository interface {
	CreateWithOutbox(ctx context.Context, order *entity.Order, buildRecord func(order *entity.Order) (*entity.OutboxRecord, error)) error
	GetByID(ctx context.Context, orderID uint) (*entity.Order, error)
	ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]entity.Order, int64, error)
	UpdateStatus(ctx context.Context, orderID uint, from, to entity.OrderStatus) error
	CancelWithOutbox(ctx context.Context, orderID uint, from entity.OrderStatus, record *entity.OutboxRecord) error
}

// ErrOrderNotFound ошибка, когда заказ не найден
var ErrOrderNotFound = errors.New("заказ не найден")

// ErrOrderStatusConflict ошибка, когда статус заказа уже изменен другой операцией
var ErrOrderStatusConflict = errors.New("статус заказа уже изменен")

// OrderRepositoryImpl реализация репозитория заказов
type OrderRepositoryImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &OrderRepositoryImpl{
		db: db,
	}
}

// CreateWithOutbox сохраняет заказ с позициями и исходящее сообщение в одной
// транзакции. buildRecord вызывается после вставки заказа, когда известен его
// идентификатор. Либо фиксируется все, либо ничего.
func (r *OrderRepositoryImpl) CreateWithOutbox(ctx context.Context, order *entity.Order, buildRecord func(order *entity.Order) (*entity.OutboxRecord, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		record, err := buildRecord(order)
		if err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		return nil
	})
}

// GetByID возвращает заказ вместе с позициями
func (r *OrderRepositoryImpl) GetByID(ctx context.Context, orderID uint) (*entity.Order, error) {
	var order entity.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListByUserID возвращает заказы пользователя и их общее количество
func (r *OrderRepositoryImpl) ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]entity.Order, int64, error) {
	var orders []entity.Order
	var total int64

	r.db.WithContext(ctx).Model(&entity.Order{}).Where("user_id = ?", userID).Count(&total)
	err := r.db.WithContext(ctx).Preload("Items").
		Where("user_id = ?", userID).
		Limit(limit).Offset(offset).Order("created_at DESC").
		Find(&orders).Error

	return orders, total, err
}

// UpdateStatus переводит заказ из статуса from в статус to. Перевод условный:
// если заказ уже не в статусе from, возвращается ErrOrderStatusConflict.
func (r *OrderRepositoryImpl) UpdateStatus(ctx context.Context, orderID uint, from, to entity.OrderStatus) error {
	result := r.db.WithContext(ctx).Model(&entity.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusConflict
	}
	return nil
}

// CancelWithOutbox переводит заказ в статус CANCELLED и сохраняет исходящее
// сообщение об отмене в одной транзакции. Перевод условный по статусу from.
func (r *OrderRepositoryImpl) CancelWithOutbox(ctx context.Context, orderID uint, from entity.OrderStatus, record *entity.OutboxRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&entity.Order{}).
			Where("id = ? AND status = ?", orderID, from).
			Updates(map[string]interface{}{
				"status":       entity.OrderStatusCancelled,
				"cancelled_at": now,
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOrderStatusConflict
		}

		if err := tx.Create(record).Error; err != nil {
			return err
		}

		return nil
	})
}
