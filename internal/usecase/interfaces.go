package usecase

import (
	"context"
	"time"

	"github.com/director74/shop_fulfillment/pkg/redislock"
)

// RabbitMQClient интерфейс для публикации сообщений в RabbitMQ
type RabbitMQClient interface {
	PublishMessage(exchange, routingKey string, message interface{}) error
	PublishMessageWithRetry(exchange, routingKey string, message interface{}, retries int) error
}

// CouponLocker интерфейс эксклюзивной блокировки по купону
type CouponLocker interface {
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (redislock.Lock, error)
}
