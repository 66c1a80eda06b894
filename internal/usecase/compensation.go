package usecase

import (
	"context"
	"log"
)

// CompensationAlert сообщение для операторов об ошибке компенсации
type CompensationAlert struct {
	OrderID       uint     `json:"order_id,omitempty"`
	UserID        uint     `json:"user_id"`
	FailedStep    string   `json:"failed_step"`
	Error         string   `json:"error"`
	ExecutedSteps []string `json:"executed_steps"`
	Critical      bool     `json:"critical"`
}

// AlertingCompensationHandler логирует ошибки компенсаций и отправляет
// алерты операторам. Ошибка компенсации означает, что ресурс частично
// отражает заказ, которого не будет, поэтому она никогда не глотается молча.
type AlertingCompensationHandler struct {
	rabbitMQ  RabbitMQClient
	alertExch string
}

func NewAlertingCompensationHandler(rabbitMQ RabbitMQClient, alertExch string) *AlertingCompensationHandler {
	return &AlertingCompensationHandler{
		rabbitMQ:  rabbitMQ,
		alertExch: alertExch,
	}
}

// HandleFailure фиксирует ошибку компенсации шага. Ошибки возврата средств
// и купона критичны: деньги или право на скидку остались в несогласованном
// состоянии. Наружу ошибка не пробрасывается.
func (h *AlertingCompensationHandler) HandleFailure(ctx context.Context, failedStep string, compensationErr error, sctx *SagaContext) {
	var orderID uint
	if sctx.Order != nil {
		orderID = sctx.Order.ID
	}

	var critical bool
	switch failedStep {
	case "deduct_balance", "use_coupon", "cancel_restore_balance", "cancel_revert_coupon":
		critical = true
	}
	if critical {
		log.Printf("[CRITICAL] Ошибка компенсации шага %s для пользователя %d (заказ %d): %v. Выполненные шаги: %v",
			failedStep, sctx.UserID, orderID, compensationErr, sctx.ExecutedSteps)
	} else {
		log.Printf("[Saga] Ошибка компенсации шага %s для пользователя %d (заказ %d): %v",
			failedStep, sctx.UserID, orderID, compensationErr)
	}

	if h.rabbitMQ == nil {
		return
	}

	alert := CompensationAlert{
		OrderID:       orderID,
		UserID:        sctx.UserID,
		FailedStep:    failedStep,
		Error:         compensationErr.Error(),
		ExecutedSteps: sctx.ExecutedSteps,
		Critical:      critical,
	}

	routingKey := "alert.compensation." + failedStep
	if err := h.rabbitMQ.PublishMessageWithRetry(h.alertExch, routingKey, alert, 3); err != nil {
		log.Printf("[Saga] Не удалось отправить алерт об ошибке компенсации шага %s: %v", failedStep, err)
	}
}
