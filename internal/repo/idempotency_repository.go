package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// IdempotencyRepository интерфейс реестра идемпотентных операций
type IdempotencyRepository interface {
	Insert(ctx context.Context, record *entity.IdempotencyRecord) (bool, error)
	GetByToken(ctx context.Context, token string) (*entity.IdempotencyRecord, error)
	IncrementRetry(ctx context.Context, token string) error
	MarkCompleted(ctx context.Context, token string, orderID uint) error
	MarkFailed(ctx context.Context, token string) error
	Reactivate(ctx context.Context, token string) (bool, error)
}

// ErrIdempotencyRecordNotFound ошибка, когда запись по токену не найдена
var ErrIdempotencyRecordNotFound = errors.New("запись идемпотентности не найдена")

// IdempotencyRepositoryImpl реализация реестра идемпотентности
type IdempotencyRepositoryImpl struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &IdempotencyRepositoryImpl{
		db: db,
	}
}

// Insert пытается создать запись по токену. Уникальный индекс по токену
// разрешает гонку двух одновременных запросов: вставится ровно одна запись.
// Возвращает true, если запись создана этим вызовом.
func (r *IdempotencyRepositoryImpl) Insert(ctx context.Context, record *entity.IdempotencyRecord) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByToken возвращает запись по токену
func (r *IdempotencyRepositoryImpl) GetByToken(ctx context.Context, token string) (*entity.IdempotencyRecord, error) {
	var record entity.IdempotencyRecord
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdempotencyRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// IncrementRetry увеличивает счетчик повторных обращений по токену
func (r *IdempotencyRepositoryImpl) IncrementRetry(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Model(&entity.IdempotencyRecord{}).
		Where("token = ?", token).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
}

// MarkCompleted фиксирует успешный исход операции и ссылку на заказ
func (r *IdempotencyRepositoryImpl) MarkCompleted(ctx context.Context, token string, orderID uint) error {
	return r.db.WithContext(ctx).Model(&entity.IdempotencyRecord{}).
		Where("token = ?", token).
		Updates(map[string]interface{}{
			"status":          entity.IdempotencyStatusCompleted,
			"result_order_id": orderID,
		}).Error
}

// MarkFailed фиксирует неуспешный исход операции
func (r *IdempotencyRepositoryImpl) MarkFailed(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Model(&entity.IdempotencyRecord{}).
		Where("token = ?", token).
		Update("status", entity.IdempotencyStatusFailed).Error
}

// Reactivate переводит неуспешную запись обратно в PENDING для новой попытки.
// Перевод условный: если статус уже не FAILED, возвращается false и вызывающий
// перечитывает запись.
func (r *IdempotencyRepositoryImpl) Reactivate(ctx context.Context, token string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.IdempotencyRecord{}).
		Where("token = ? AND status = ?", token, entity.IdempotencyStatusFailed).
		Update("status", entity.IdempotencyStatusPending)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
