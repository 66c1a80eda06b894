package usecase

import (
	"context"
	"errors"
	"log"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
	apperrors "github.com/director74/shop_fulfillment/pkg/errors"
)

// AccountUseCase реализует чтение и пополнение баланса пользователя
type AccountUseCase struct {
	accountRepo repo.AccountRepository
}

func NewAccountUseCase(accountRepo repo.AccountRepository) *AccountUseCase {
	return &AccountUseCase{
		accountRepo: accountRepo,
	}
}

// GetAccount возвращает аккаунт пользователя
func (uc *AccountUseCase) GetAccount(ctx context.Context, userID uint) (entity.GetAccountResponse, error) {
	account, err := uc.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrAccountNotFound) {
			return entity.GetAccountResponse{}, apperrors.NewNotFoundError("Аккаунт пользователя", userID)
		}
		return entity.GetAccountResponse{}, apperrors.NewInternalServerError(err)
	}

	return entity.GetAccountResponse{
		ID:        account.ID,
		UserID:    account.UserID,
		Balance:   account.Balance,
		CreatedAt: account.CreatedAt,
	}, nil
}

// Deposit пополняет баланс пользователя. При первом пополнении аккаунт
// создается автоматически.
func (uc *AccountUseCase) Deposit(ctx context.Context, userID uint, amount float64) (entity.DepositResponse, error) {
	transaction, balance, err := uc.accountRepo.Deposit(ctx, userID, amount)
	if err != nil {
		return entity.DepositResponse{}, apperrors.NewInternalServerError(err)
	}

	log.Printf("[Account] Баланс пользователя %d пополнен на %.2f, текущий баланс %.2f", userID, amount, balance)
	return entity.DepositResponse{
		Transaction: entity.TransactionResponse{
			ID:        transaction.ID,
			AccountID: transaction.AccountID,
			Amount:    transaction.Amount,
			Type:      transaction.Type,
			CreatedAt: transaction.CreatedAt,
		},
		Balance: balance,
	}, nil
}
