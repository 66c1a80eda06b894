package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// AccountRepository интерфейс для работы с балансами пользователей
type AccountRepository interface {
	GetByUserID(ctx context.Context, userID uint) (*entity.Account, error)
	DeductBalance(ctx context.Context, userID uint, orderID *uint, amount float64) error
	RestoreBalance(ctx context.Context, userID uint, orderID *uint, amount float64) error
	Deposit(ctx context.Context, userID uint, amount float64) (*entity.Transaction, float64, error)
}

// ErrAccountNotFound ошибка, когда аккаунт пользователя не найден
var ErrAccountNotFound = errors.New("аккаунт пользователя не найден")

// ErrInsufficientBalance ошибка, когда средств на балансе недостаточно
var ErrInsufficientBalance = errors.New("недостаточно средств на балансе")

// AccountRepositoryImpl реализация репозитория аккаунтов
type AccountRepositoryImpl struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &AccountRepositoryImpl{
		db: db,
	}
}

// GetByUserID возвращает аккаунт по идентификатору пользователя
func (r *AccountRepositoryImpl) GetByUserID(ctx context.Context, userID uint) (*entity.Account, error) {
	var account entity.Account
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DeductBalance списывает amount со счета пользователя. Проверка и списание
// выполняются в одной транзакции под блокировкой строки. При нехватке средств
// транзакция откатывается без каких-либо записей.
func (r *AccountRepositoryImpl) DeductBalance(ctx context.Context, userID uint, orderID *uint, amount float64) error {
	tx := r.db.WithContext(ctx).Begin()
	defer func() {
		if rec := recover(); rec != nil {
			tx.Rollback()
		}
	}()
	if tx.Error != nil {
		return tx.Error
	}

	var account entity.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&account).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	if account.Balance < amount {
		tx.Rollback()
		return ErrInsufficientBalance
	}

	if err := tx.Model(&entity.Account{}).
		Where("id = ?", account.ID).
		Update("balance", gorm.Expr("balance - ?", amount)).Error; err != nil {
		tx.Rollback()
		return err
	}

	transaction := entity.Transaction{
		AccountID: account.ID,
		OrderID:   orderID,
		Amount:    amount,
		Type:      entity.TransactionTypeWithdrawal,
	}
	if err := tx.Create(&transaction).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// RestoreBalance возвращает amount на счет пользователя при компенсации
// или отмене заказа. Возврат безусловный и выполняется под блокировкой строки.
func (r *AccountRepositoryImpl) RestoreBalance(ctx context.Context, userID uint, orderID *uint, amount float64) error {
	tx := r.db.WithContext(ctx).Begin()
	defer func() {
		if rec := recover(); rec != nil {
			tx.Rollback()
		}
	}()
	if tx.Error != nil {
		return tx.Error
	}

	var account entity.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&account).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	if err := tx.Model(&entity.Account{}).
		Where("id = ?", account.ID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
		tx.Rollback()
		return err
	}

	transaction := entity.Transaction{
		AccountID: account.ID,
		OrderID:   orderID,
		Amount:    amount,
		Type:      entity.TransactionTypeRefund,
	}
	if err := tx.Create(&transaction).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// Deposit пополняет баланс пользователя. Если аккаунта еще нет, он
// создается в той же транзакции с нулевым балансом.
func (r *AccountRepositoryImpl) Deposit(ctx context.Context, userID uint, amount float64) (*entity.Transaction, float64, error) {
	tx := r.db.WithContext(ctx).Begin()
	defer func() {
		if rec := recover(); rec != nil {
			tx.Rollback()
		}
	}()
	if tx.Error != nil {
		return nil, 0, tx.Error
	}

	var account entity.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			tx.Rollback()
			return nil, 0, err
		}
		account = entity.Account{UserID: userID, Balance: 0}
		if err = tx.Create(&account).Error; err != nil {
			tx.Rollback()
			return nil, 0, err
		}
	}

	newBalance := account.Balance + amount
	if err = tx.Model(&entity.Account{}).
		Where("id = ?", account.ID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
		tx.Rollback()
		return nil, 0, err
	}

	transaction := entity.Transaction{
		AccountID: account.ID,
		Amount:    amount,
		Type:      entity.TransactionTypeDeposit,
	}
	if err = tx.Create(&transaction).Error; err != nil {
		tx.Rollback()
		return nil, 0, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, 0, err
	}
	return &transaction, newBalance, nil
}
