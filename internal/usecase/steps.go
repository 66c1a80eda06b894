package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
	"github.com/director74/shop_fulfillment/pkg/retry"
)

// DeductInventoryStep списывает остатки по всем позициям заказа.
// Списание оптимистичное, конфликт версий повторяется с задержкой.
type DeductInventoryStep struct {
	inventoryRepo     repo.InventoryRepository
	outboxRepo        repo.OutboxRepository
	retryPolicy       retry.Policy
	lowStockThreshold int
}

func NewDeductInventoryStep(inventoryRepo repo.InventoryRepository, outboxRepo repo.OutboxRepository, retryPolicy retry.Policy, lowStockThreshold int) *DeductInventoryStep {
	return &DeductInventoryStep{
		inventoryRepo:     inventoryRepo,
		outboxRepo:        outboxRepo,
		retryPolicy:       retryPolicy,
		lowStockThreshold: lowStockThreshold,
	}
}

func (s *DeductInventoryStep) Name() string {
	return "deduct_inventory"
}

func (s *DeductInventoryStep) OrderIndex() int {
	return 1
}

// Execute списывает остаток по каждой позиции. Если списание очередной
// позиции не удалось, уже списанные позиции возвращаются на склад здесь же:
// откат саги компенсирует только целиком выполненные шаги.
func (s *DeductInventoryStep) Execute(ctx context.Context, sctx *SagaContext) error {
	for _, item := range sctx.Items {
		var remaining int
		err := s.retryPolicy.Do(ctx, func() error {
			var deductErr error
			remaining, deductErr = s.inventoryRepo.DeductStock(ctx, item.OptionID, item.Quantity)
			return deductErr
		}, func(err error) bool {
			return errors.Is(err, repo.ErrStockConflict)
		})
		if err != nil {
			s.restoreDeducted(ctx, sctx)
			return fmt.Errorf("ошибка при списании остатка варианта %d: %w", item.OptionID, err)
		}

		sctx.DeductedItems = append(sctx.DeductedItems, entity.RestoredItem{
			OptionID: item.OptionID,
			Quantity: item.Quantity,
		})

		wasAbove := remaining+item.Quantity > s.lowStockThreshold
		if wasAbove && remaining <= s.lowStockThreshold {
			s.emitLowStock(ctx, item, remaining)
		}
	}
	return nil
}

// Compensate возвращает на склад все списанные позиции
func (s *DeductInventoryStep) Compensate(ctx context.Context, sctx *SagaContext) error {
	var firstErr error
	for _, item := range sctx.DeductedItems {
		if err := s.inventoryRepo.RestoreStock(ctx, item.OptionID, item.Quantity); err != nil {
			log.Printf("[Saga] Не удалось вернуть %d единиц варианта %d на склад: %v", item.Quantity, item.OptionID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("ошибка при возврате остатка варианта %d: %w", item.OptionID, err)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	sctx.DeductedItems = nil
	return nil
}

func (s *DeductInventoryStep) restoreDeducted(ctx context.Context, sctx *SagaContext) {
	for _, item := range sctx.DeductedItems {
		if err := s.inventoryRepo.RestoreStock(ctx, item.OptionID, item.Quantity); err != nil {
			log.Printf("[Saga] Не удалось вернуть %d единиц варианта %d на склад: %v", item.Quantity, item.OptionID, err)
		}
	}
	sctx.DeductedItems = nil
}

// emitLowStock пишет событие о низком остатке в исходящие сообщения.
// Ошибка записи не влияет на исход списания.
func (s *DeductInventoryStep) emitLowStock(ctx context.Context, item entity.OrderLineItem, remaining int) {
	payload, err := json.Marshal(entity.LowInventoryMessage{
		ProductID: item.ProductID,
		OptionID:  item.OptionID,
		Stock:     remaining,
		Threshold: s.lowStockThreshold,
	})
	if err != nil {
		log.Printf("[Saga] Не удалось сериализовать событие о низком остатке варианта %d: %v", item.OptionID, err)
		return
	}

	record := &entity.OutboxRecord{
		MessageID:   uuid.NewString(),
		MessageType: entity.OutboxMessageLowInventory,
		Payload:     datatypes.JSON(payload),
		Status:      entity.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, record); err != nil {
		log.Printf("[Saga] Не удалось записать событие о низком остатке варианта %d: %v", item.OptionID, err)
	}
}

// DeductBalanceStep списывает итоговую сумму заказа со счета пользователя
type DeductBalanceStep struct {
	accountRepo repo.AccountRepository
}

func NewDeductBalanceStep(accountRepo repo.AccountRepository) *DeductBalanceStep {
	return &DeductBalanceStep{
		accountRepo: accountRepo,
	}
}

func (s *DeductBalanceStep) Name() string {
	return "deduct_balance"
}

func (s *DeductBalanceStep) OrderIndex() int {
	return 2
}

// Execute списывает итоговую сумму. Нехватка средств не повторяется,
// это окончательный отказ.
func (s *DeductBalanceStep) Execute(ctx context.Context, sctx *SagaContext) error {
	if err := s.accountRepo.DeductBalance(ctx, sctx.UserID, nil, sctx.FinalAmount); err != nil {
		return fmt.Errorf("ошибка при списании средств пользователя %d: %w", sctx.UserID, err)
	}
	return nil
}

// Compensate возвращает списанную сумму на счет
func (s *DeductBalanceStep) Compensate(ctx context.Context, sctx *SagaContext) error {
	var orderID *uint
	if sctx.Order != nil {
		orderID = &sctx.Order.ID
	}
	if err := s.accountRepo.RestoreBalance(ctx, sctx.UserID, orderID, sctx.FinalAmount); err != nil {
		return fmt.Errorf("ошибка при возврате средств пользователя %d: %w", sctx.UserID, err)
	}
	return nil
}

// UseCouponStep помечает выданный пользователю купон использованным.
// Шаг пропускается, если заказ оформляется без купона.
type UseCouponStep struct {
	couponRepo repo.CouponRepository
}

func NewUseCouponStep(couponRepo repo.CouponRepository) *UseCouponStep {
	return &UseCouponStep{
		couponRepo: couponRepo,
	}
}

func (s *UseCouponStep) Name() string {
	return "use_coupon"
}

func (s *UseCouponStep) OrderIndex() int {
	return 3
}

// Execute переводит выдачу купона в статус USED. Выдача проверена до запуска
// конвейера, конфликт здесь означает конкурентное использование.
func (s *UseCouponStep) Execute(ctx context.Context, sctx *SagaContext) error {
	if sctx.CouponID == nil {
		return nil
	}
	if err := s.couponRepo.UpdateGrantStatus(ctx, sctx.GrantID, entity.CouponGrantStatusUnused, entity.CouponGrantStatusUsed); err != nil {
		return fmt.Errorf("ошибка при использовании купона %d: %w", *sctx.CouponID, err)
	}
	return nil
}

// Compensate возвращает выдачу в статус UNUSED и единицу в остаток купонов
func (s *UseCouponStep) Compensate(ctx context.Context, sctx *SagaContext) error {
	if sctx.CouponID == nil {
		return nil
	}
	if err := s.couponRepo.UpdateGrantStatus(ctx, sctx.GrantID, entity.CouponGrantStatusUsed, entity.CouponGrantStatusUnused); err != nil {
		return fmt.Errorf("ошибка при откате использования купона %d: %w", *sctx.CouponID, err)
	}
	if err := s.couponRepo.RestoreRemaining(ctx, *sctx.CouponID); err != nil {
		return fmt.Errorf("ошибка при возврате остатка купона %d: %w", *sctx.CouponID, err)
	}
	return nil
}

// OutboxNudger будит диспетчер исходящих сообщений вне расписания
type OutboxNudger interface {
	Nudge()
}

// CreateOrderStep сохраняет заказ и событие о его оформлении одной транзакцией
type CreateOrderStep struct {
	orderRepo repo.OrderRepository
	nudger    OutboxNudger
}

func NewCreateOrderStep(orderRepo repo.OrderRepository, nudger OutboxNudger) *CreateOrderStep {
	return &CreateOrderStep{
		orderRepo: orderRepo,
		nudger:    nudger,
	}
}

func (s *CreateOrderStep) Name() string {
	return "create_order"
}

func (s *CreateOrderStep) OrderIndex() int {
	return 4
}

// Execute сохраняет заказ со статусом COMPLETED вместе с позициями и
// записью исходящего события, затем будит диспетчер
func (s *CreateOrderStep) Execute(ctx context.Context, sctx *SagaContext) error {
	order := &entity.Order{
		UserID:         sctx.UserID,
		Status:         entity.OrderStatusCompleted,
		CouponID:       sctx.CouponID,
		Subtotal:       sctx.Subtotal,
		CouponDiscount: sctx.CouponDiscount,
		FinalAmount:    sctx.FinalAmount,
		Items:          sctx.Items,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	err := s.orderRepo.CreateWithOutbox(ctx, order, func(created *entity.Order) (*entity.OutboxRecord, error) {
		payload, marshalErr := json.Marshal(entity.OrderCompletedMessage{
			OrderID: created.ID,
			UserID:  created.UserID,
			Amount:  created.FinalAmount,
		})
		if marshalErr != nil {
			return nil, fmt.Errorf("ошибка при сериализации события о заказе: %w", marshalErr)
		}
		return &entity.OutboxRecord{
			MessageID:   uuid.NewString(),
			OrderID:     created.ID,
			UserID:      created.UserID,
			MessageType: entity.OutboxMessageOrderCompleted,
			Payload:     datatypes.JSON(payload),
			Status:      entity.OutboxStatusPending,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("ошибка при сохранении заказа: %w", err)
	}

	sctx.Order = order
	if s.nudger != nil {
		s.nudger.Nudge()
	}
	return nil
}

// Compensate переводит заказ PENDING -> FAILED -> CANCELLED, только если он
// все еще PENDING. Заказ, сохраненный как COMPLETED, остается нетронутым:
// откаты ресурсов выполняют предыдущие шаги.
func (s *CreateOrderStep) Compensate(ctx context.Context, sctx *SagaContext) error {
	if sctx.Order == nil {
		return nil
	}

	err := s.orderRepo.UpdateStatus(ctx, sctx.Order.ID, entity.OrderStatusPending, entity.OrderStatusFailed)
	if err != nil {
		if errors.Is(err, repo.ErrOrderStatusConflict) {
			return nil
		}
		return fmt.Errorf("ошибка при переводе заказа %d в FAILED: %w", sctx.Order.ID, err)
	}

	err = s.orderRepo.UpdateStatus(ctx, sctx.Order.ID, entity.OrderStatusFailed, entity.OrderStatusCancelled)
	if err != nil && !errors.Is(err, repo.ErrOrderStatusConflict) {
		return fmt.Errorf("ошибка при переводе заказа %d в CANCELLED: %w", sctx.Order.ID, err)
	}
	return nil
}
