package entity

import (
	"time"
)

// CouponGrantStatus статус выданного пользователю купона
type CouponGrantStatus string

const (
	CouponGrantStatusUnused CouponGrantStatus = "unused"
	CouponGrantStatusUsed   CouponGrantStatus = "used"
)

// Coupon купон с ограниченным тиражом, окном действия и монотонной версией
// для оптимистичных изменений счетчика
type Coupon struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Name           string    `json:"name" gorm:"type:varchar(255);not null"`
	DiscountAmount float64   `json:"discount_amount" gorm:"type:decimal(12,2);not null"`
	RemainingQty   int       `json:"remaining_qty" gorm:"not null;default:0"`
	IsActive       bool      `json:"is_active" gorm:"not null;default:true"`
	ValidFrom      time.Time `json:"valid_from" gorm:"not null"`
	ValidUntil     time.Time `json:"valid_until" gorm:"not null"`
	Version        int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WithinWindow проверяет, действует ли купон в момент now
func (c *Coupon) WithinWindow(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// CouponGrant факт выдачи купона пользователю; на пару (пользователь, купон)
// существует не более одной записи
type CouponGrant struct {
	ID        uint              `json:"id" gorm:"primaryKey"`
	UserID    uint              `json:"user_id" gorm:"uniqueIndex:idx_coupon_grants_user_coupon;not null"`
	CouponID  uint              `json:"coupon_id" gorm:"uniqueIndex:idx_coupon_grants_user_coupon;not null"`
	Status    CouponGrantStatus `json:"status" gorm:"type:varchar(20);not null"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IssueCouponRequest запрос на выдачу купона
type IssueCouponRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// GrantResponse снимок выданного купона
type GrantResponse struct {
	ID             uint              `json:"id"`
	UserID         uint              `json:"user_id"`
	CouponID       uint              `json:"coupon_id"`
	CouponName     string            `json:"coupon_name"`
	DiscountAmount float64           `json:"discount_amount"`
	Status         CouponGrantStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}
