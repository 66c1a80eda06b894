package entity

import (
	"time"
)

// Account хранит информацию о финансовом аккаунте пользователя и его балансе
type Account struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"uniqueIndex;not null"`
	Balance   float64   `json:"balance" gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Transaction содержит запись о движении средств по аккаунту.
// Записывается только для применившихся операций, отказ списания следа не оставляет.
type Transaction struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	AccountID uint      `json:"account_id" gorm:"index:idx_transactions_account_id"`
	OrderID   *uint     `json:"order_id,omitempty" gorm:"index"`
	Amount    float64   `json:"amount" gorm:"type:decimal(12,2);not null"`
	Type      string    `json:"type" gorm:"index:idx_transactions_type;type:varchar(20);not null"` // deposit, withdrawal, refund
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Типы транзакций
const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeRefund     = "refund"
)

type GetAccountResponse struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type DepositRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type TransactionResponse struct {
	ID        uint      `json:"id"`
	AccountID uint      `json:"account_id"`
	Amount    float64   `json:"amount"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type DepositResponse struct {
	Transaction TransactionResponse `json:"transaction"`
	Balance     float64             `json:"balance"`
}
