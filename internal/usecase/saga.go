package usecase

import (
	"context"
	"log"
	"sort"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// SagaContext общее состояние конвейера оформления заказа. Заполняется
// до запуска шагов и дополняется по мере их выполнения.
type SagaContext struct {
	UserID         uint
	Items          []entity.OrderLineItem
	CouponID       *uint
	GrantID        uint
	Subtotal       float64
	CouponDiscount float64
	FinalAmount    float64

	// Позиции, фактически списанные со склада. Заполняет шаг списания,
	// использует его компенсация.
	DeductedItems []entity.RestoredItem

	// Заказ, сохраненный шагом создания заказа
	Order *entity.Order

	// Имена успешно выполненных шагов в порядке выполнения
	ExecutedSteps []string
}

// SagaStep шаг конвейера. Каждый шаг фиксирует свои изменения независимо
// и обязан уметь их откатить.
type SagaStep interface {
	Name() string
	OrderIndex() int
	Execute(ctx context.Context, sctx *SagaContext) error
	Compensate(ctx context.Context, sctx *SagaContext) error
}

// CompensationHandler обрабатывает ошибки компенсаций. Ошибка компенсации
// не останавливает откат остальных шагов и не возвращается вызывающему.
type CompensationHandler interface {
	HandleFailure(ctx context.Context, failedStep string, compensationErr error, sctx *SagaContext)
}

// SagaOrchestrator последовательно выполняет шаги конвейера и откатывает
// выполненные шаги в обратном порядке при ошибке
type SagaOrchestrator struct {
	handler CompensationHandler
}

func NewSagaOrchestrator(handler CompensationHandler) *SagaOrchestrator {
	return &SagaOrchestrator{
		handler: handler,
	}
}

// Run выполняет шаги по возрастанию порядкового индекса. При ошибке любого
// шага выполненные шаги компенсируются от последнего к первому, после чего
// исходная ошибка возвращается вызывающему.
func (o *SagaOrchestrator) Run(ctx context.Context, steps []SagaStep, sctx *SagaContext) error {
	ordered := make([]SagaStep, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex() < ordered[j].OrderIndex()
	})

	var executed []SagaStep

	for _, step := range ordered {
		log.Printf("[Saga] Выполняется шаг %s", step.Name())
		if err := step.Execute(ctx, sctx); err != nil {
			log.Printf("[Saga] Шаг %s завершился ошибкой: %v. Запускается откат", step.Name(), err)
			o.rollback(ctx, executed, sctx)
			return err
		}
		executed = append(executed, step)
		sctx.ExecutedSteps = append(sctx.ExecutedSteps, step.Name())
	}

	return nil
}

// rollback компенсирует выполненные шаги от последнего к первому. Ошибка
// одной компенсации передается обработчику и не прерывает остальные.
func (o *SagaOrchestrator) rollback(ctx context.Context, executed []SagaStep, sctx *SagaContext) {
	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]
		log.Printf("[Saga] Компенсируется шаг %s", step.Name())
		if err := step.Compensate(ctx, sctx); err != nil {
			o.handler.HandleFailure(ctx, step.Name(), err, sctx)
		}
	}
}
