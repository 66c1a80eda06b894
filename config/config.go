package config

import (
	"time"

	"github.com/director74/shop_fulfillment/pkg/config"
)

// Config содержит конфигурацию сервиса оформления заказов
type Config struct {
	HTTP      config.HTTPConfig
	Postgres  config.PostgresConfig
	RabbitMQ  config.RabbitMQConfig
	Redis     config.RedisConfig
	Saga      SagaConfig
	Outbox    OutboxConfig
	Coupon    CouponConfig
	Inventory InventoryConfig
}

// SagaConfig задает политику повторов оптимистичных записей в шагах саги
type SagaConfig struct {
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMultiplier  float64
	RetryJitter      float64
}

// OutboxConfig задает параметры фоновой доставки событий
type OutboxConfig struct {
	DispatchInterval time.Duration
	BatchSize        int
	MaxRetries       int
	StuckAfter       time.Duration
	PublishRetries   int
}

// CouponConfig задает параметры блокировки выдачи и кэширования купонов
type CouponConfig struct {
	LockWait  time.Duration
	LockLease time.Duration
	CacheTTL  time.Duration
}

// InventoryConfig задает порог уведомления о низком остатке
type InventoryConfig struct {
	LowStockThreshold int
}

func NewConfig() (*Config, error) {
	// Загружаем общую конфигурацию
	commonConfig := config.LoadCommonConfig("fulfillment", "8080")

	return &Config{
		HTTP:     commonConfig.HTTP,
		Postgres: commonConfig.Postgres,
		RabbitMQ: commonConfig.RabbitMQ,
		Redis:    commonConfig.Redis,
		Saga: SagaConfig{
			RetryMaxAttempts: config.GetEnvAsInt("SAGA_RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:   config.GetEnvAsDuration("SAGA_RETRY_BASE_DELAY", 20*time.Millisecond),
			RetryMultiplier:  config.GetEnvAsFloat("SAGA_RETRY_MULTIPLIER", 2.0),
			RetryJitter:      config.GetEnvAsFloat("SAGA_RETRY_JITTER", 0.2),
		},
		Outbox: OutboxConfig{
			DispatchInterval: config.GetEnvAsDuration("OUTBOX_DISPATCH_INTERVAL", 5*time.Second),
			BatchSize:        config.GetEnvAsInt("OUTBOX_BATCH_SIZE", 100),
			MaxRetries:       config.GetEnvAsInt("OUTBOX_MAX_RETRIES", 5),
			StuckAfter:       config.GetEnvAsDuration("OUTBOX_STUCK_AFTER", 2*time.Minute),
			PublishRetries:   config.GetEnvAsInt("OUTBOX_PUBLISH_RETRIES", 2),
		},
		Coupon: CouponConfig{
			LockWait:  config.GetEnvAsDuration("COUPON_LOCK_WAIT", 3*time.Second),
			LockLease: config.GetEnvAsDuration("COUPON_LOCK_LEASE", 10*time.Second),
			CacheTTL:  config.GetEnvAsDuration("COUPON_CACHE_TTL", 5*time.Minute),
		},
		Inventory: InventoryConfig{
			LowStockThreshold: config.GetEnvAsInt("INVENTORY_LOW_STOCK_THRESHOLD", 5),
		},
	}, nil
}
