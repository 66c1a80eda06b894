package entity

import (
	"time"
)

// IdempotencyStatus статус обработки идемпотентного запроса
type IdempotencyStatus string

const (
	IdempotencyStatusPending   IdempotencyStatus = "pending"
	IdempotencyStatusCompleted IdempotencyStatus = "completed"
	IdempotencyStatusFailed    IdempotencyStatus = "failed"
)

// IdempotencyRecord фиксирует клиентский токен запроса и исход операции.
// Повторная отправка с тем же токеном после успеха возвращает исходный результат,
// не выполняя побочных эффектов заново. Имена полей и статусы — стабильный контракт.
type IdempotencyRecord struct {
	ID            uint              `json:"id" gorm:"primaryKey"`
	Token         string            `json:"token" gorm:"type:varchar(64);uniqueIndex;not null"`
	Operation     string            `json:"operation" gorm:"type:varchar(40);not null"`
	Status        IdempotencyStatus `json:"status" gorm:"type:varchar(20);not null"`
	RetryCount    int               `json:"retry_count" gorm:"not null;default:0"`
	ResultOrderID *uint             `json:"result_order_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
