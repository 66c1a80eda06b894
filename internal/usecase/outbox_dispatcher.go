package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
)

// OutboxDispatcherConfig параметры фонового диспетчера исходящих сообщений
type OutboxDispatcherConfig struct {
	Interval       time.Duration
	BatchSize      int
	MaxRetries     int
	StuckAfter     time.Duration
	PublishRetries int
	EventExchange  string
	AlertExchange  string
}

// OutboxEnvelope конверт публикуемого события. Идентификатор сообщения
// входит в конверт, чтобы потребители могли отбрасывать повторные доставки.
type OutboxEnvelope struct {
	MessageID   string          `json:"message_id"`
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
}

// OutboxAbandonAlert сообщение операторам о выброшенной записи
type OutboxAbandonAlert struct {
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type"`
	OrderID     uint   `json:"order_id,omitempty"`
	Error       string `json:"error"`
}

// OutboxDispatcher доставляет записи исходящих сообщений в брокер. Работает
// по собственному расписанию независимо от запросов, дополнительно его можно
// разбудить через Nudge сразу после записи нового события.
type OutboxDispatcher struct {
	outboxRepo repo.OutboxRepository
	rabbitMQ   RabbitMQClient
	cfg        OutboxDispatcherConfig

	nudge    chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewOutboxDispatcher(outboxRepo repo.OutboxRepository, rabbitMQ RabbitMQClient, cfg OutboxDispatcherConfig) *OutboxDispatcher {
	return &OutboxDispatcher{
		outboxRepo: outboxRepo,
		rabbitMQ:   rabbitMQ,
		cfg:        cfg,
		nudge:      make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start запускает цикл доставки в отдельной горутине
func (d *OutboxDispatcher) Start() {
	go d.run()
	log.Printf("[Outbox] Диспетчер запущен, интервал %s", d.cfg.Interval)
}

// Stop останавливает цикл доставки и дожидается его завершения
func (d *OutboxDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	<-d.done
	log.Println("[Outbox] Диспетчер остановлен")
}

// Nudge будит диспетчер вне расписания. Не блокируется: если пробуждение
// уже запланировано, повторное схлопывается с ним.
func (d *OutboxDispatcher) Nudge() {
	select {
	case d.nudge <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
		case <-d.nudge:
		}
		d.dispatch(context.Background())
	}
}

// dispatch выполняет одну итерацию: возвращает в очередь зависшие и неудачные
// записи, затем забирает порцию ожидающих и доставляет каждую
func (d *OutboxDispatcher) dispatch(ctx context.Context) {
	stuck, err := d.outboxRepo.RequeueStuckPublishing(ctx, d.cfg.StuckAfter)
	if err != nil {
		log.Printf("[Outbox] Ошибка при возврате зависших записей: %v", err)
	} else if stuck > 0 {
		log.Printf("[Outbox] Возвращено в очередь %d зависших записей", stuck)
	}

	requeued, err := d.outboxRepo.RequeueFailed(ctx, d.cfg.MaxRetries)
	if err != nil {
		log.Printf("[Outbox] Ошибка при возврате неудачных записей: %v", err)
	} else if requeued > 0 {
		log.Printf("[Outbox] Возвращено в очередь %d неудачных записей", requeued)
	}

	records, err := d.outboxRepo.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		log.Printf("[Outbox] Ошибка при выборке ожидающих записей: %v", err)
		return
	}

	for _, record := range records {
		d.deliver(ctx, record)
	}
}

// deliver захватывает запись и публикует ее событие. Захват условный, поэтому
// конкурирующая итерация не доставит ту же запись второй раз.
func (d *OutboxDispatcher) deliver(ctx context.Context, record entity.OutboxRecord) {
	claimed, err := d.outboxRepo.MarkPublishing(ctx, record.ID)
	if err != nil {
		log.Printf("[Outbox] Ошибка при захвате записи %s: %v", record.MessageID, err)
		return
	}
	if !claimed {
		return
	}

	routingKey, ok := routingKeyFor(record.MessageType)
	if !ok {
		d.fail(ctx, record, fmt.Errorf("неизвестный тип сообщения %s", record.MessageType))
		return
	}

	envelope := OutboxEnvelope{
		MessageID:   record.MessageID,
		MessageType: record.MessageType,
		Payload:     json.RawMessage(record.Payload),
	}
	if err := d.rabbitMQ.PublishMessageWithRetry(d.cfg.EventExchange, routingKey, envelope, d.cfg.PublishRetries); err != nil {
		d.fail(ctx, record, err)
		return
	}

	if err := d.outboxRepo.MarkPublished(ctx, record.ID); err != nil {
		log.Printf("[Outbox] Сообщение %s доставлено, но не помечено отправленным: %v", record.MessageID, err)
		return
	}
	log.Printf("[Outbox] Сообщение %s (%s) доставлено", record.MessageID, record.MessageType)
}

// fail фиксирует неудачную попытку. Если лимит попыток исчерпан, запись
// бросается окончательно и операторам уходит алерт.
func (d *OutboxDispatcher) fail(ctx context.Context, record entity.OutboxRecord, deliveryErr error) {
	log.Printf("[Outbox] Не удалось доставить сообщение %s (%s): %v", record.MessageID, record.MessageType, deliveryErr)

	abandoned, err := d.outboxRepo.MarkFailed(ctx, record.ID, d.cfg.MaxRetries)
	if err != nil {
		log.Printf("[Outbox] Ошибка при пометке записи %s неудачной: %v", record.MessageID, err)
		return
	}
	if !abandoned {
		return
	}

	log.Printf("[CRITICAL] Сообщение %s (%s) брошено после %d попыток", record.MessageID, record.MessageType, d.cfg.MaxRetries)
	alert := OutboxAbandonAlert{
		MessageID:   record.MessageID,
		MessageType: record.MessageType,
		OrderID:     record.OrderID,
		Error:       deliveryErr.Error(),
	}
	if err := d.rabbitMQ.PublishMessage(d.cfg.AlertExchange, "alert.outbox.abandoned", alert); err != nil {
		log.Printf("[Outbox] Не удалось отправить алерт о брошенном сообщении %s: %v", record.MessageID, err)
	}
}

// routingKeyFor возвращает ключ маршрутизации для типа сообщения
func routingKeyFor(messageType string) (string, bool) {
	switch messageType {
	case entity.OutboxMessageOrderCompleted:
		return "order.completed", true
	case entity.OutboxMessageOrderCancelled:
		return "order.cancelled", true
	case entity.OutboxMessageLowInventory:
		return "inventory.low", true
	}
	return "", false
}
