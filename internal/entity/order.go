package entity

import (
	"time"
)

// OrderStatus статус заказа
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// CanTransitionTo проверяет допустимость перехода статуса.
// Завершенный заказ можно только отменить; отмененный заказ терминален.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return target == OrderStatusCompleted || target == OrderStatusFailed || target == OrderStatusCancelled
	case OrderStatusCompleted:
		return target == OrderStatusCancelled
	case OrderStatusFailed:
		return target == OrderStatusCancelled
	default:
		return false
	}
}

// OrderLineItem позиция заказа; наименования и цена фиксируются на момент создания
// и не зависят от последующих изменений каталога
type OrderLineItem struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	OrderID     uint      `json:"order_id" gorm:"index"`
	ProductID   uint      `json:"product_id"`
	OptionID    uint      `json:"option_id"`
	ProductName string    `json:"product_name" gorm:"type:varchar(255)"`
	OptionName  string    `json:"option_name" gorm:"type:varchar(255)"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price" gorm:"type:decimal(12,2)"`
	CreatedAt   time.Time `json:"created_at"`
}

// Order хранит информацию о заказе, его стоимости и примененном купоне
type Order struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	UserID         uint            `json:"user_id" gorm:"index"`
	Status         OrderStatus     `json:"status" gorm:"type:varchar(20);index"`
	CouponID       *uint           `json:"coupon_id,omitempty"`
	Subtotal       float64         `json:"subtotal" gorm:"type:decimal(12,2);not null"`
	CouponDiscount float64         `json:"coupon_discount" gorm:"type:decimal(12,2);not null;default:0"`
	FinalAmount    float64         `json:"final_amount" gorm:"type:decimal(12,2);not null"`
	Items          []OrderLineItem `json:"items" gorm:"foreignKey:OrderID"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// LineItemRequest позиция заказа в запросе
type LineItemRequest struct {
	ProductID uint `json:"product_id" binding:"required"`
	OptionID  uint `json:"option_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderRequest запрос на создание заказа
type CreateOrderRequest struct {
	UserID           uint              `json:"user_id" binding:"required"`
	Items            []LineItemRequest `json:"items" binding:"required,min=1,dive"`
	CouponID         *uint             `json:"coupon_id,omitempty"`
	IdempotencyToken string            `json:"idempotency_token,omitempty"`
}

// OrderResponse снимок заказа в ответе
type OrderResponse struct {
	ID             uint            `json:"id"`
	UserID         uint            `json:"user_id"`
	Status         OrderStatus     `json:"status"`
	CouponID       *uint           `json:"coupon_id,omitempty"`
	Subtotal       float64         `json:"subtotal"`
	CouponDiscount float64         `json:"coupon_discount"`
	FinalAmount    float64         `json:"final_amount"`
	Items          []OrderLineItem `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int64           `json:"total"`
}

// CancelOrderRequest запрос на отмену заказа
type CancelOrderRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// RestoredItem возвращенная на склад позиция
type RestoredItem struct {
	OptionID uint `json:"option_id"`
	Quantity int  `json:"quantity"`
}

// RefundSummary итог отмены заказа
type RefundSummary struct {
	OrderID        uint           `json:"order_id"`
	UserID         uint           `json:"user_id"`
	RefundedAmount float64        `json:"refunded_amount"`
	RestoredItems  []RestoredItem `json:"restored_items"`
	CouponReverted bool           `json:"coupon_reverted"`
	CancelledAt    time.Time      `json:"cancelled_at"`
}
