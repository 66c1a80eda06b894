package entity

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxStatus статус записи исходящих событий
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusPublishing OutboxStatus = "publishing"
	OutboxStatusPublished  OutboxStatus = "published"
	OutboxStatusFailed     OutboxStatus = "failed"
	OutboxStatusAbandoned  OutboxStatus = "abandoned"
)

// Типы исходящих событий
const (
	OutboxMessageOrderCompleted = "ORDER_COMPLETED"
	OutboxMessageOrderCancelled = "ORDER_CANCELLED"
	OutboxMessageLowInventory   = "LOW_INVENTORY"
)

// OutboxRecord долговременная запись события, создаваемая в одной транзакции
// с породившей его бизнес-операцией и доставляемая фоновым диспетчером.
// Имена полей и значения статусов — стабильный контракт для внешних систем.
type OutboxRecord struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	MessageID   string         `json:"message_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	OrderID     uint           `json:"order_id" gorm:"index"`
	UserID      uint           `json:"user_id"`
	MessageType string         `json:"message_type" gorm:"type:varchar(40);not null"`
	Payload     datatypes.JSON `json:"payload"`
	Status      OutboxStatus   `json:"status" gorm:"type:varchar(20);index;not null"`
	RetryCount  int            `json:"retry_count" gorm:"not null;default:0"`
	CreatedAt   time.Time      `json:"created_at"`
	LastAttempt *time.Time     `json:"last_attempt,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
}

// OrderCompletedMessage полезная нагрузка события о завершенном заказе
type OrderCompletedMessage struct {
	OrderID uint    `json:"order_id"`
	UserID  uint    `json:"user_id"`
	Amount  float64 `json:"amount"`
}

// OrderCancelledMessage полезная нагрузка события об отмене заказа
type OrderCancelledMessage struct {
	OrderID uint `json:"order_id"`
	UserID  uint `json:"user_id"`
}

// LowInventoryMessage полезная нагрузка уведомления о низком остатке
type LowInventoryMessage struct {
	ProductID uint `json:"product_id"`
	OptionID  uint `json:"option_id"`
	Stock     int  `json:"stock"`
	Threshold int  `json:"threshold"`
}
