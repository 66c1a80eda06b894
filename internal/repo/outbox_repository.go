package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// OutboxRepository интерфейс хранилища исходящих сообщений
type OutboxRepository interface {
	Create(ctx context.Context, record *entity.OutboxRecord) error
	FetchPending(ctx context.Context, limit int) ([]entity.OutboxRecord, error)
	MarkPublishing(ctx context.Context, recordID uint) (bool, error)
	MarkPublished(ctx context.Context, recordID uint) error
	MarkFailed(ctx context.Context, recordID uint, maxRetries int) (bool, error)
	RequeueFailed(ctx context.Context, maxRetries int) (int64, error)
	RequeueStuckPublishing(ctx context.Context, stuckAfter time.Duration) (int64, error)
}

// OutboxRepositoryImpl реализация хранилища исходящих сообщений
type OutboxRepositoryImpl struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &OutboxRepositoryImpl{
		db: db,
	}
}

// Create сохраняет запись вне транзакции заказа. Используется для событий,
// не привязанных к созданию или отмене заказа.
func (r *OutboxRepositoryImpl) Create(ctx context.Context, record *entity.OutboxRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FetchPending возвращает порцию ожидающих отправки записей, старые первыми
func (r *OutboxRepositoryImpl) FetchPending(ctx context.Context, limit int) ([]entity.OutboxRecord, error) {
	var records []entity.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", entity.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// MarkPublishing помечает запись как отправляемую. Перевод условный: только
// из статуса PENDING, поэтому две конкурирующие итерации диспетчера не
// возьмут одну запись дважды. Возвращает true, если запись захвачена.
func (r *OutboxRepositoryImpl) MarkPublishing(ctx context.Context, recordID uint) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&entity.OutboxRecord{}).
		Where("id = ? AND status = ?", recordID, entity.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":       entity.OutboxStatusPublishing,
			"last_attempt": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkPublished помечает запись доставленной с отметкой времени
func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, recordID uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&entity.OutboxRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"status":  entity.OutboxStatusPublished,
			"sent_at": now,
		}).Error
}

// MarkFailed увеличивает счетчик попыток и помечает запись неудачной.
// Если лимит попыток исчерпан, запись переводится в ABANDONED.
// Возвращает true, если запись брошена окончательно.
func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, recordID uint, maxRetries int) (bool, error) {
	err := r.db.WithContext(ctx).Model(&entity.OutboxRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"status":      entity.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).Model(&entity.OutboxRecord{}).
		Where("id = ? AND status = ? AND retry_count >= ?", recordID, entity.OutboxStatusFailed, maxRetries).
		Update("status", entity.OutboxStatusAbandoned)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RequeueFailed возвращает неудачные записи с неисчерпанным лимитом попыток
// обратно в очередь. Вызывается в начале каждой итерации диспетчера.
func (r *OutboxRepositoryImpl) RequeueFailed(ctx context.Context, maxRetries int) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entity.OutboxRecord{}).
		Where("status = ? AND retry_count < ?", entity.OutboxStatusFailed, maxRetries).
		Update("status", entity.OutboxStatusPending)
	return result.RowsAffected, result.Error
}

// RequeueStuckPublishing возвращает в очередь записи, зависшие в статусе
// PUBLISHING дольше stuckAfter. Такое возможно после падения процесса
// между захватом записи и отметкой результата.
func (r *OutboxRepositoryImpl) RequeueStuckPublishing(ctx context.Context, stuckAfter time.Duration) (int64, error) {
	deadline := time.Now().Add(-stuckAfter)
	result := r.db.WithContext(ctx).Model(&entity.OutboxRecord{}).
		Where("status = ? AND last_attempt < ?", entity.OutboxStatusPublishing, deadline).
		Update("status", entity.OutboxStatusPending)
	return result.RowsAffected, result.Error
}
