package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
)

// ErrOperationInProgress ошибка повторной отправки, пока первый запрос
// с тем же токеном еще выполняется
var ErrOperationInProgress = errors.New("операция с этим токеном уже выполняется")

// BeginResult результат регистрации идемпотентной операции
type BeginResult struct {
	// IsNew true, если операция регистрируется впервые и конвейер нужно выполнить
	IsNew bool
	// PriorOrderID заказ, созданный предыдущим успешным выполнением
	PriorOrderID *uint
}

// IdempotencyService реестр идемпотентных операций. Гонку двух запросов
// с одним токеном решает уникальный индекс: конвейер выполнит ровно один,
// второй увидит его прогресс или результат.
type IdempotencyService struct {
	repo repo.IdempotencyRepository
}

func NewIdempotencyService(idempotencyRepo repo.IdempotencyRepository) *IdempotencyService {
	return &IdempotencyService{
		repo: idempotencyRepo,
	}
}

// Begin регистрирует операцию по токену. Для новой операции возвращает
// IsNew=true, для завершенной возвращает прежний результат, для выполняющейся
// возвращает ErrOperationInProgress, после неудачной разрешает новую попытку.
func (s *IdempotencyService) Begin(ctx context.Context, token, operation string) (BeginResult, error) {
	record := &entity.IdempotencyRecord{
		Token:     token,
		Operation: operation,
		Status:    entity.IdempotencyStatusPending,
	}
	inserted, err := s.repo.Insert(ctx, record)
	if err != nil {
		return BeginResult{}, fmt.Errorf("ошибка при регистрации операции: %w", err)
	}
	if inserted {
		return BeginResult{IsNew: true}, nil
	}

	existing, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return BeginResult{}, fmt.Errorf("ошибка при чтении записи идемпотентности: %w", err)
	}

	switch existing.Status {
	case entity.IdempotencyStatusCompleted:
		return BeginResult{PriorOrderID: existing.ResultOrderID}, nil
	case entity.IdempotencyStatusPending:
		if err := s.repo.IncrementRetry(ctx, token); err != nil {
			log.Printf("[Idempotency] Не удалось увеличить счетчик повторов токена %s: %v", token, err)
		}
		return BeginResult{}, ErrOperationInProgress
	case entity.IdempotencyStatusFailed:
		reactivated, err := s.repo.Reactivate(ctx, token)
		if err != nil {
			return BeginResult{}, fmt.Errorf("ошибка при повторной активации операции: %w", err)
		}
		if !reactivated {
			return BeginResult{}, ErrOperationInProgress
		}
		return BeginResult{IsNew: true}, nil
	}

	return BeginResult{}, fmt.Errorf("неизвестный статус записи идемпотентности: %s", existing.Status)
}

// Complete фиксирует успешный исход операции и созданный заказ
func (s *IdempotencyService) Complete(ctx context.Context, token string, orderID uint) error {
	return s.repo.MarkCompleted(ctx, token, orderID)
}

// Fail фиксирует неуспешный исход операции, разрешая новую попытку
func (s *IdempotencyService) Fail(ctx context.Context, token string) error {
	return s.repo.MarkFailed(ctx, token)
}
