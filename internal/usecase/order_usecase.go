package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
	apperrors "github.com/director74/shop_fulfillment/pkg/errors"
)

// Коды причин отказа в ответах API заказов
const (
	ReasonInsufficientStock   = "INSUFFICIENT_STOCK"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonInvalidCoupon       = "INVALID_COUPON"
	ReasonProductNotFound     = "PRODUCT_NOT_FOUND"
	ReasonOptionNotFound      = "OPTION_NOT_FOUND"
	ReasonUserMismatch        = "USER_MISMATCH"
	ReasonInvalidStatus       = "INVALID_STATUS"
)

const opCreateOrder = "create_order"

// OrderUseCase реализует оформление, отмену и чтение заказов
type OrderUseCase struct {
	orderRepo     repo.OrderRepository
	catalogRepo   repo.CatalogRepository
	inventoryRepo repo.InventoryRepository
	accountRepo   repo.AccountRepository
	couponRepo    repo.CouponRepository
	idempotency   *IdempotencyService
	orchestrator  *SagaOrchestrator
	steps         []SagaStep
	alerts        CompensationHandler
	nudger        OutboxNudger
}

func NewOrderUseCase(
	orderRepo repo.OrderRepository,
	catalogRepo repo.CatalogRepository,
	inventoryRepo repo.InventoryRepository,
	accountRepo repo.AccountRepository,
	couponRepo repo.CouponRepository,
	idempotency *IdempotencyService,
	orchestrator *SagaOrchestrator,
	steps []SagaStep,
	alerts CompensationHandler,
	nudger OutboxNudger,
) *OrderUseCase {
	return &OrderUseCase{
		orderRepo:     orderRepo,
		catalogRepo:   catalogRepo,
		inventoryRepo: inventoryRepo,
		accountRepo:   accountRepo,
		couponRepo:    couponRepo,
		idempotency:   idempotency,
		orchestrator:  orchestrator,
		steps:         steps,
		alerts:        alerts,
		nudger:        nudger,
	}
}

// CreateOrder оформляет заказ через конвейер списаний. Либо возвращается
// полный снимок заказа, либо код отказа без остаточных изменений:
// выполненные списания откатывает компенсация.
func (uc *OrderUseCase) CreateOrder(ctx context.Context, req entity.CreateOrderRequest) (entity.OrderResponse, error) {
	if req.IdempotencyToken != "" {
		begin, err := uc.idempotency.Begin(ctx, req.IdempotencyToken, opCreateOrder)
		if err != nil {
			if errors.Is(err, ErrOperationInProgress) {
				return entity.OrderResponse{}, apperrors.NewConflictError("запрос с этим токеном уже выполняется, повторите позже", err)
			}
			return entity.OrderResponse{}, apperrors.NewInternalServerError(err)
		}
		if !begin.IsNew {
			return uc.priorOutcome(ctx, req.IdempotencyToken, begin)
		}
	}

	items, subtotal, err := uc.resolveItems(ctx, req.Items)
	if err != nil {
		uc.failIdempotent(ctx, req.IdempotencyToken)
		return entity.OrderResponse{}, err
	}

	sctx := &SagaContext{
		UserID:      req.UserID,
		Items:       items,
		CouponID:    req.CouponID,
		Subtotal:    subtotal,
		FinalAmount: subtotal,
	}

	if req.CouponID != nil {
		grant, coupon, err := uc.validateCoupon(ctx, req.UserID, *req.CouponID)
		if err != nil {
			uc.failIdempotent(ctx, req.IdempotencyToken)
			return entity.OrderResponse{}, err
		}
		discount := coupon.DiscountAmount
		if discount > subtotal {
			discount = subtotal
		}
		sctx.GrantID = grant.ID
		sctx.CouponDiscount = discount
		sctx.FinalAmount = subtotal - discount
	}

	if err := uc.orchestrator.Run(ctx, uc.steps, sctx); err != nil {
		uc.failIdempotent(ctx, req.IdempotencyToken)
		return entity.OrderResponse{}, uc.mapSagaError(err)
	}

	if req.IdempotencyToken != "" {
		if err := uc.idempotency.Complete(ctx, req.IdempotencyToken, sctx.Order.ID); err != nil {
			log.Printf("[Order] Не удалось зафиксировать результат токена %s: %v", req.IdempotencyToken, err)
		}
	}

	log.Printf("[Order] Заказ %d пользователя %d оформлен на сумму %.2f", sctx.Order.ID, req.UserID, sctx.Order.FinalAmount)
	return toOrderResponse(sctx.Order), nil
}

// CancelOrder отменяет завершенный заказ: помечает его отмененным вместе с
// записью исходящего события, затем возвращает остатки, деньги и купон.
// Ошибка отдельного возврата уходит в алерт и не прерывает остальные.
func (uc *OrderUseCase) CancelOrder(ctx context.Context, userID, orderID uint) (entity.RefundSummary, error) {
	order, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrOrderNotFound) {
			return entity.RefundSummary{}, apperrors.NewNotFoundError("Заказ", orderID)
		}
		return entity.RefundSummary{}, apperrors.NewInternalServerError(err)
	}

	if order.UserID != userID {
		return entity.RefundSummary{}, apperrors.NewServiceError(http.StatusForbidden, ReasonUserMismatch, "заказ принадлежит другому пользователю", nil)
	}
	if order.Status != entity.OrderStatusCompleted {
		return entity.RefundSummary{}, apperrors.NewBusinessError(ReasonInvalidStatus, fmt.Sprintf("заказ в статусе %s нельзя отменить", order.Status), nil)
	}

	payload, err := json.Marshal(entity.OrderCancelledMessage{
		OrderID: order.ID,
		UserID:  order.UserID,
	})
	if err != nil {
		return entity.RefundSummary{}, apperrors.NewInternalServerError(err)
	}
	record := &entity.OutboxRecord{
		MessageID:   uuid.NewString(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		MessageType: entity.OutboxMessageOrderCancelled,
		Payload:     datatypes.JSON(payload),
		Status:      entity.OutboxStatusPending,
	}

	if err := uc.orderRepo.CancelWithOutbox(ctx, order.ID, entity.OrderStatusCompleted, record); err != nil {
		if errors.Is(err, repo.ErrOrderStatusConflict) {
			return entity.RefundSummary{}, apperrors.NewBusinessError(ReasonInvalidStatus, "заказ уже отменен", err)
		}
		return entity.RefundSummary{}, apperrors.NewInternalServerError(err)
	}

	if uc.nudger != nil {
		uc.nudger.Nudge()
	}

	summary := entity.RefundSummary{
		OrderID:        order.ID,
		UserID:         order.UserID,
		RefundedAmount: order.FinalAmount,
		CancelledAt:    time.Now(),
	}
	sctx := &SagaContext{UserID: order.UserID, Order: order}

	for _, item := range order.Items {
		if err := uc.inventoryRepo.RestoreStock(ctx, item.OptionID, item.Quantity); err != nil {
			uc.alerts.HandleFailure(ctx, "cancel_restore_inventory", err, sctx)
			continue
		}
		summary.RestoredItems = append(summary.RestoredItems, entity.RestoredItem{
			OptionID: item.OptionID,
			Quantity: item.Quantity,
		})
	}

	if err := uc.accountRepo.RestoreBalance(ctx, order.UserID, &order.ID, order.FinalAmount); err != nil {
		uc.alerts.HandleFailure(ctx, "cancel_restore_balance", err, sctx)
		summary.RefundedAmount = 0
	}

	if order.CouponID != nil {
		summary.CouponReverted = uc.revertCoupon(ctx, order, sctx)
	}

	log.Printf("[Order] Заказ %d пользователя %d отменен, возвращено %.2f", order.ID, order.UserID, summary.RefundedAmount)
	return summary, nil
}

// GetOrder возвращает заказ с позициями
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID uint) (entity.OrderResponse, error) {
	order, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrOrderNotFound) {
			return entity.OrderResponse{}, apperrors.NewNotFoundError("Заказ", orderID)
		}
		return entity.OrderResponse{}, apperrors.NewInternalServerError(err)
	}
	return toOrderResponse(order), nil
}

// ListUserOrders возвращает заказы пользователя, новые первыми
func (uc *OrderUseCase) ListUserOrders(ctx context.Context, userID uint, limit, offset int) (entity.ListOrdersResponse, error) {
	orders, total, err := uc.orderRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return entity.ListOrdersResponse{}, apperrors.NewInternalServerError(err)
	}

	resp := entity.ListOrdersResponse{
		Orders: make([]entity.OrderResponse, 0, len(orders)),
		Total:  total,
	}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(&orders[i]))
	}
	return resp, nil
}

// priorOutcome возвращает результат предыдущего выполнения с тем же токеном
func (uc *OrderUseCase) priorOutcome(ctx context.Context, token string, begin BeginResult) (entity.OrderResponse, error) {
	if begin.PriorOrderID == nil {
		return entity.OrderResponse{}, apperrors.NewInternalServerError(fmt.Errorf("запись идемпотентности завершена без заказа"))
	}
	prior, err := uc.orderRepo.GetByID(ctx, *begin.PriorOrderID)
	if err != nil {
		return entity.OrderResponse{}, apperrors.NewInternalServerError(err)
	}
	log.Printf("[Order] Повторный запрос с токеном %s, возвращается заказ %d", token, prior.ID)
	return toOrderResponse(prior), nil
}

// resolveItems превращает позиции запроса в позиции заказа с зафиксированными
// наименованиями и ценами каталога и считает стоимость без скидки
func (uc *OrderUseCase) resolveItems(ctx context.Context, reqItems []entity.LineItemRequest) ([]entity.OrderLineItem, float64, error) {
	items := make([]entity.OrderLineItem, 0, len(reqItems))
	var subtotal float64

	for _, ri := range reqItems {
		product, err := uc.catalogRepo.GetProduct(ctx, ri.ProductID)
		if err != nil {
			if errors.Is(err, repo.ErrProductNotFound) {
				return nil, 0, apperrors.NewBusinessError(ReasonProductNotFound, fmt.Sprintf("товар %d не найден", ri.ProductID), err)
			}
			return nil, 0, apperrors.NewInternalServerError(err)
		}

		option, err := uc.catalogRepo.GetOption(ctx, ri.OptionID)
		if err != nil {
			if errors.Is(err, repo.ErrOptionNotFound) {
				return nil, 0, apperrors.NewBusinessError(ReasonOptionNotFound, fmt.Sprintf("вариант %d не найден", ri.OptionID), err)
			}
			return nil, 0, apperrors.NewInternalServerError(err)
		}
		if option.ProductID != product.ID {
			return nil, 0, apperrors.NewBusinessError(ReasonOptionNotFound, fmt.Sprintf("вариант %d не принадлежит товару %d", ri.OptionID, ri.ProductID), nil)
		}

		items = append(items, entity.OrderLineItem{
			ProductID:   product.ID,
			OptionID:    option.ID,
			ProductName: product.Name,
			OptionName:  option.Name,
			Quantity:    ri.Quantity,
			UnitPrice:   option.Price,
		})
		subtotal += option.Price * float64(ri.Quantity)
	}

	return items, subtotal, nil
}

// validateCoupon проверяет, что купон выдан пользователю, не использован,
// активен и в пределах срока действия. Проверка выполняется до запуска
// конвейера, поэтому отказ не требует компенсаций.
func (uc *OrderUseCase) validateCoupon(ctx context.Context, userID, couponID uint) (*entity.CouponGrant, *entity.Coupon, error) {
	grant, err := uc.couponRepo.GetGrant(ctx, userID, couponID)
	if err != nil {
		if errors.Is(err, repo.ErrGrantNotFound) {
			return nil, nil, apperrors.NewBusinessError(ReasonInvalidCoupon, fmt.Sprintf("купон %d не выдавался пользователю", couponID), err)
		}
		return nil, nil, apperrors.NewInternalServerError(err)
	}
	if grant.Status != entity.CouponGrantStatusUnused {
		return nil, nil, apperrors.NewBusinessError(ReasonInvalidCoupon, fmt.Sprintf("купон %d уже использован", couponID), nil)
	}

	coupon, err := uc.couponRepo.GetCoupon(ctx, couponID)
	if err != nil {
		if errors.Is(err, repo.ErrCouponNotFound) {
			return nil, nil, apperrors.NewBusinessError(ReasonInvalidCoupon, fmt.Sprintf("купон %d не найден", couponID), err)
		}
		return nil, nil, apperrors.NewInternalServerError(err)
	}
	if !coupon.IsActive {
		return nil, nil, apperrors.NewBusinessError(ReasonInvalidCoupon, fmt.Sprintf("купон %d деактивирован", couponID), nil)
	}
	if !coupon.WithinWindow(time.Now()) {
		return nil, nil, apperrors.NewBusinessError(ReasonInvalidCoupon, fmt.Sprintf("срок действия купона %d истек или не начался", couponID), nil)
	}

	return grant, coupon, nil
}

// revertCoupon возвращает выдачу купона в UNUSED и единицу в остаток.
// Ошибки уходят в алерт, возвращается факт успешного отката.
func (uc *OrderUseCase) revertCoupon(ctx context.Context, order *entity.Order, sctx *SagaContext) bool {
	grant, err := uc.couponRepo.GetGrant(ctx, order.UserID, *order.CouponID)
	if err != nil {
		uc.alerts.HandleFailure(ctx, "cancel_revert_coupon", fmt.Errorf("ошибка при поиске выдачи купона %d: %w", *order.CouponID, err), sctx)
		return false
	}
	if err := uc.couponRepo.UpdateGrantStatus(ctx, grant.ID, entity.CouponGrantStatusUsed, entity.CouponGrantStatusUnused); err != nil {
		uc.alerts.HandleFailure(ctx, "cancel_revert_coupon", fmt.Errorf("ошибка при возврате выдачи купона %d: %w", *order.CouponID, err), sctx)
		return false
	}
	if err := uc.couponRepo.RestoreRemaining(ctx, *order.CouponID); err != nil {
		uc.alerts.HandleFailure(ctx, "cancel_revert_coupon", fmt.Errorf("ошибка при возврате остатка купона %d: %w", *order.CouponID, err), sctx)
		return false
	}
	return true
}

// failIdempotent помечает операцию неуспешной, чтобы повтор с тем же
// токеном мог выполниться заново
func (uc *OrderUseCase) failIdempotent(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := uc.idempotency.Fail(ctx, token); err != nil {
		log.Printf("[Order] Не удалось пометить операцию с токеном %s неуспешной: %v", token, err)
	}
}

// mapSagaError переводит ошибку конвейера в код отказа для вызывающего
func (uc *OrderUseCase) mapSagaError(err error) error {
	switch {
	case errors.Is(err, repo.ErrInsufficientStock):
		return apperrors.NewBusinessError(ReasonInsufficientStock, "недостаточно товара на складе", err)
	case errors.Is(err, repo.ErrInsufficientBalance):
		return apperrors.NewBusinessError(ReasonInsufficientBalance, "недостаточно средств на балансе", err)
	case errors.Is(err, repo.ErrStockConflict):
		return apperrors.NewConflictError("", err)
	case errors.Is(err, repo.ErrOptionNotFound):
		return apperrors.NewBusinessError(ReasonOptionNotFound, "вариант товара не найден", err)
	case errors.Is(err, repo.ErrAccountNotFound):
		return apperrors.NewBusinessError(ReasonInsufficientBalance, "аккаунт пользователя не найден", err)
	case errors.Is(err, repo.ErrGrantStateConflict):
		return apperrors.NewBusinessError(ReasonInvalidCoupon, "купон уже использован", err)
	default:
		return apperrors.NewInternalServerError(err)
	}
}

func toOrderResponse(order *entity.Order) entity.OrderResponse {
	return entity.OrderResponse{
		ID:             order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		CouponID:       order.CouponID,
		Subtotal:       order.Subtotal,
		CouponDiscount: order.CouponDiscount,
		FinalAmount:    order.FinalAmount,
		Items:          order.Items,
		CreatedAt:      order.CreatedAt,
	}
}
