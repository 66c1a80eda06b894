package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"

	"github.com/director74/shop_fulfillment/internal/entity"
)

func createTestDispatcherConfig(interval time.Duration) OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		Interval:       interval,
		BatchSize:      10,
		MaxRetries:     3,
		StuckAfter:     time.Minute,
		PublishRetries: 3,
		EventExchange:  "order_events",
		AlertExchange:  "alerts",
	}
}

func createTestOutboxRecord(id uint, messageType string) entity.OutboxRecord {
	return entity.OutboxRecord{
		ID:          id,
		MessageID:   fmt.Sprintf("msg-%d", id),
		OrderID:     10,
		UserID:      1,
		MessageType: messageType,
		Payload:     datatypes.JSON(`{"order_id":10,"user_id":1,"amount":2500}`),
		Status:      entity.OutboxStatusPending,
	}
}

func createTestDispatcher() (*OutboxDispatcher, *MockOutboxRepository, *MockRabbitMQ) {
	mockOutbox := new(MockOutboxRepository)
	mockRabbit := new(MockRabbitMQ)
	d := NewOutboxDispatcher(mockOutbox, mockRabbit, createTestDispatcherConfig(time.Second))
	return d, mockOutbox, mockRabbit
}

func setupEmptyRequeues(mockOutbox *MockOutboxRepository) {
	mockOutbox.On("RequeueStuckPublishing", mock.Anything, time.Minute).Return(int64(0), nil).Once()
	mockOutbox.On("RequeueFailed", mock.Anything, 3).Return(int64(0), nil).Once()
}

func TestOutboxDispatcherDeliversPendingRecords(t *testing.T) {
	d, mockOutbox, mockRabbit := createTestDispatcher()

	setupEmptyRequeues(mockOutbox)
	records := []entity.OutboxRecord{
		createTestOutboxRecord(1, entity.OutboxMessageOrderCompleted),
		createTestOutboxRecord(2, entity.OutboxMessageLowInventory),
	}
	mockOutbox.On("FetchPending", mock.Anything, 10).Return(records, nil).Once()
	mockOutbox.On("MarkPublishing", mock.Anything, uint(1)).Return(true, nil).Once()
	mockOutbox.On("MarkPublishing", mock.Anything, uint(2)).Return(true, nil).Once()
	mockRabbit.On("PublishMessageWithRetry", "order_events", "order.completed", mock.Anything, 3).Return(nil).Once()
	mockRabbit.On("PublishMessageWithRetry", "order_events", "inventory.low", mock.Anything, 3).Return(nil).Once()
	mockOutbox.On("MarkPublished", mock.Anything, uint(1)).Return(nil).Once()
	mockOutbox.On("MarkPublished", mock.Anything, uint(2)).Return(nil).Once()

	d.dispatch(context.Background())

	// Событие уходит в конверте с идентификатором для дедупликации
	assert.Len(t, mockRabbit.PublishHistory, 2)
	envelope, ok := mockRabbit.PublishHistory[0].Message.(OutboxEnvelope)
	assert.True(t, ok)
	assert.Equal(t, "msg-1", envelope.MessageID)
	assert.Equal(t, entity.OutboxMessageOrderCompleted, envelope.MessageType)
	assert.JSONEq(t, `{"order_id":10,"user_id":1,"amount":2500}`, string(envelope.Payload))

	mockOutbox.AssertExpectations(t)
	mockRabbit.AssertExpectations(t)
}

func TestOutboxDispatcherSkipsRecordsClaimedByOthers(t *testing.T) {
	d, mockOutbox, mockRabbit := createTestDispatcher()

	setupEmptyRequeues(mockOutbox)
	mockOutbox.On("FetchPending", mock.Anything, 10).Return([]entity.OutboxRecord{
		createTestOutboxRecord(1, entity.OutboxMessageOrderCompleted),
	}, nil).Once()
	// Запись уже захвачена конкурирующей итерацией
	mockOutbox.On("MarkPublishing", mock.Anything, uint(1)).Return(false, nil).Once()

	d.dispatch(context.Background())

	assert.Empty(t, mockRabbit.PublishHistory)
	mockOutbox.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
	mockOutbox.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxDispatcherPublishFailureMarksRecordFailed(t *testing.T) {
	d, mockOutbox, mockRabbit := createTestDispatcher()

	setupEmptyRequeues(mockOutbox)
	mockOutbox.On("FetchPending", mock.Anything, 10).Return([]entity.OutboxRecord{
		createTestOutboxRecord(1, entity.OutboxMessageOrderCompleted),
	}, nil).Once()
	mockOutbox.On("MarkPublishing", mock.Anything, uint(1)).Return(true, nil).Once()
	mockRabbit.On("PublishMessageWithRetry", "order_events", "order.completed", mock.Anything, 3).Return(errors.New("брокер недоступен")).Once()
	// Попытки еще остались, запись не бросается
	mockOutbox.On("MarkFailed", mock.Anything, uint(1), 3).Return(false, nil).Once()

	d.dispatch(context.Background())

	mockOutbox.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
	mockRabbit.AssertNotCalled(t, "PublishMessage", mock.Anything, mock.Anything, mock.Anything)
	mockOutbox.AssertExpectations(t)
}

func TestOutboxDispatcherAbandonedRecordAlertsOperators(t *testing.T) {
	d, mockOutbox, mockRabbit := createTestDispatcher()

	setupEmptyRequeues(mockOutbox)
	mockOutbox.On("FetchPending", mock.Anything, 10).Return([]entity.OutboxRecord{
		createTestOutboxRecord(1, entity.OutboxMessageOrderCompleted),
	}, nil).Once()
	mockOutbox.On("MarkPublishing", mock.Anything, uint(1)).Return(true, nil).Once()
	mockRabbit.On("PublishMessageWithRetry", "order_events", "order.completed", mock.Anything, 3).Return(errors.New("брокер недоступен")).Once()
	// Лимит попыток исчерпан
	mockOutbox.On("MarkFailed", mock.Anything, uint(1), 3).Return(true, nil).Once()
	mockRabbit.On("PublishMessage", "alerts", "alert.outbox.abandoned", mock.MatchedBy(func(alert OutboxAbandonAlert) bool {
		return alert.MessageID == "msg-1" && alert.OrderID == 10 && alert.Error == "брокер недоступен"
	})).Return(nil).Once()

	d.dispatch(context.Background())

	mockOutbox.AssertExpectations(t)
	mockRabbit.AssertExpectations(t)
}

func TestOutboxDispatcherUnknownMessageTypeFails(t *testing.T) {
	d, mockOutbox, mockRabbit := createTestDispatcher()

	setupEmptyRequeues(mockOutbox)
	mockOutbox.On("FetchPending", mock.Anything, 10).Return([]entity.OutboxRecord{
		createTestOutboxRecord(1, "UNKNOWN_TYPE"),
	}, nil).Once()
	mockOutbox.On("MarkPublishing", mock.Anything, uint(1)).Return(true, nil).Once()
	mockOutbox.On("MarkFailed", mock.Anything, uint(1), 3).Return(false, nil).Once()

	d.dispatch(context.Background())

	// Сообщение без маршрута не публикуется
	mockRabbit.AssertNotCalled(t, "PublishMessageWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockOutbox.AssertExpectations(t)
}

func TestOutboxDispatcherRequeuesBeforeFetch(t *testing.T) {
	d, mockOutbox, _ := createTestDispatcher()

	mockOutbox.On("RequeueStuckPublishing", mock.Anything, time.Minute).Return(int64(2), nil).Once()
	mockOutbox.On("RequeueFailed", mock.Anything, 3).Return(int64(1), nil).Once()
	mockOutbox.On("FetchPending", mock.Anything, 10).Return([]entity.OutboxRecord{}, nil).Once()

	d.dispatch(context.Background())

	// Возвраты выполняются до выборки, чтобы записи попали в эту же порцию
	assert.Equal(t, "RequeueStuckPublishing", mockOutbox.Calls[0].Method)
	assert.Equal(t, "RequeueFailed", mockOutbox.Calls[1].Method)
	assert.Equal(t, "FetchPending", mockOutbox.Calls[2].Method)
}

func TestOutboxDispatcherFetchErrorSkipsIteration(t *testing.T) {
	d, mockOutbox, mockRabbit := createTestDispatcher()

	setupEmptyRequeues(mockOutbox)
	mockOutbox.On("FetchPending", mock.Anything, 10).Return(nil, errors.New("БД недоступна")).Once()

	d.dispatch(context.Background())

	assert.Empty(t, mockRabbit.PublishHistory)
	mockOutbox.AssertNotCalled(t, "MarkPublishing", mock.Anything, mock.Anything)
}

func TestOutboxDispatcherStartNudgeStop(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	mockRabbit := new(MockRabbitMQ)

	mockOutbox.On("RequeueStuckPublishing", mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()
	mockOutbox.On("RequeueFailed", mock.Anything, mock.Anything).Return(int64(0), nil).Maybe()
	mockOutbox.On("FetchPending", mock.Anything, mock.Anything).Return([]entity.OutboxRecord{}, nil).Maybe()

	// Большой интервал: сработать может только пробуждение через Nudge
	d := NewOutboxDispatcher(mockOutbox, mockRabbit, createTestDispatcherConfig(time.Hour))
	d.Start()

	d.Nudge()
	// Повторное пробуждение схлопывается с запланированным и не блокируется
	d.Nudge()

	time.Sleep(50 * time.Millisecond)
	d.Stop()

	calls := len(mockOutbox.Calls)
	assert.True(t, calls >= 3, "диспетчер должен был выполнить хотя бы одну итерацию, вызовов: %d", calls)

	// Повторная остановка безопасна
	d.Stop()
}
