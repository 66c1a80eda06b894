package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/director74/shop_fulfillment/config"
	httpController "github.com/director74/shop_fulfillment/internal/controller/http"
	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/repo"
	"github.com/director74/shop_fulfillment/internal/usecase"
	"github.com/director74/shop_fulfillment/pkg/database"
	"github.com/director74/shop_fulfillment/pkg/errors"
	"github.com/director74/shop_fulfillment/pkg/messaging"
	"github.com/director74/shop_fulfillment/pkg/rabbitmq"
	"github.com/director74/shop_fulfillment/pkg/redislock"
	"github.com/director74/shop_fulfillment/pkg/retry"
)

const (
	eventExchange = "order_events"
	alertExchange = "alerts"
)

// App представляет приложение
type App struct {
	config     *config.Config
	httpServer *http.Server
	db         *gorm.DB
	redis      *redis.Client
	rabbitMQ   *rabbitmq.RabbitMQ
	dispatcher *usecase.OutboxDispatcher
}

func NewApp(cfg *config.Config) (*App, error) {
	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		return nil, errors.AppendPrefix(err, "не удалось подключиться к базе данных")
	}

	// Автомиграция моделей
	if err := database.AutoMigrateWithCleanup(db,
		&entity.Product{},
		&entity.ProductOption{},
		&entity.Account{},
		&entity.Transaction{},
		&entity.Coupon{},
		&entity.CouponGrant{},
		&entity.Order{},
		&entity.OrderLineItem{},
		&entity.OutboxRecord{},
		&entity.IdempotencyRecord{},
	); err != nil {
		database.CloseDB(db)
		return nil, errors.AppendPrefix(err, "не удалось выполнить миграцию")
	}

	// Инициализируем подключение к Redis
	redisClient, err := database.NewRedisClient(cfg.Redis)
	if err != nil {
		database.CloseDB(db)
		return nil, errors.AppendPrefix(err, "не удалось подключиться к Redis")
	}

	// Инициализируем подключение к RabbitMQ
	rmq, err := messaging.InitRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		redisClient.Close()
		database.CloseDB(db)
		return nil, errors.AppendPrefix(err, "не удалось подключиться к RabbitMQ")
	}

	// Настраиваем exchanges и очереди в RabbitMQ
	exchanges := map[string]string{
		eventExchange: "topic",
		alertExchange: "topic",
	}
	queues := map[string]map[string]string{
		"shipping_order_queue": {
			eventExchange: "order.completed",
		},
		"analytics_events_queue": {
			eventExchange: "order.*",
		},
		"inventory_alerts_queue": {
			eventExchange: "inventory.low",
		},
		"operator_alerts_queue": {
			alertExchange: "alert.#",
		},
	}
	if err := messaging.SetupExchangesAndQueues(rmq, exchanges, queues); err != nil {
		rmq.Close()
		redisClient.Close()
		database.CloseDB(db)
		return nil, errors.AppendPrefix(err, "ошибка при настройке RabbitMQ")
	}

	// Создаем репозитории
	catalogRepo := repo.NewCatalogRepository(db)
	inventoryRepo := repo.NewInventoryRepository(db)
	accountRepo := repo.NewAccountRepository(db)
	couponRepo := repo.NewCachedCouponRepository(repo.NewCouponRepository(db), redisClient, cfg.Coupon.CacheTTL)
	orderRepo := repo.NewOrderRepository(db)
	outboxRepo := repo.NewOutboxRepository(db)
	idempotencyRepo := repo.NewIdempotencyRepository(db)

	// Фоновый диспетчер исходящих сообщений
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, rmq, usecase.OutboxDispatcherConfig{
		Interval:       cfg.Outbox.DispatchInterval,
		BatchSize:      cfg.Outbox.BatchSize,
		MaxRetries:     cfg.Outbox.MaxRetries,
		StuckAfter:     cfg.Outbox.StuckAfter,
		PublishRetries: cfg.Outbox.PublishRetries,
		EventExchange:  eventExchange,
		AlertExchange:  alertExchange,
	})

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Saga.RetryMaxAttempts,
		BaseDelay:   cfg.Saga.RetryBaseDelay,
		Multiplier:  cfg.Saga.RetryMultiplier,
		Jitter:      cfg.Saga.RetryJitter,
	}

	// Конвейер оформления заказа
	alerts := usecase.NewAlertingCompensationHandler(rmq, alertExchange)
	steps := []usecase.SagaStep{
		usecase.NewDeductInventoryStep(inventoryRepo, outboxRepo, retryPolicy, cfg.Inventory.LowStockThreshold),
		usecase.NewDeductBalanceStep(accountRepo),
		usecase.NewUseCouponStep(couponRepo),
		usecase.NewCreateOrderStep(orderRepo, dispatcher),
	}
	orchestrator := usecase.NewSagaOrchestrator(alerts)
	idempotency := usecase.NewIdempotencyService(idempotencyRepo)

	orderUseCase := usecase.NewOrderUseCase(orderRepo, catalogRepo, inventoryRepo, accountRepo, couponRepo,
		idempotency, orchestrator, steps, alerts, dispatcher)

	locker := redislock.NewLocker(redisClient, "coupon:lock:")
	couponUseCase := usecase.NewCouponUseCase(couponRepo, locker, retryPolicy, cfg.Coupon.LockWait, cfg.Coupon.LockLease)
	accountUseCase := usecase.NewAccountUseCase(accountRepo)

	orderHandler := httpController.NewOrderHandler(orderUseCase)
	couponHandler := httpController.NewCouponHandler(couponUseCase)
	accountHandler := httpController.NewAccountHandler(accountUseCase)

	// Инициализируем Gin роутер
	router := gin.Default()

	// Добавляем middleware для обработки ошибок и восстановления после паники
	router.Use(errors.RecoveryMiddleware())
	router.Use(errors.ErrorMiddleware())

	// Настраиваем обработчики для 404 и 405 ошибок
	router.NoRoute(errors.NotFoundHandler())
	router.NoMethod(errors.MethodNotAllowedHandler())

	// Регистрируем эндпоинты
	orderHandler.RegisterRoutes(router)
	couponHandler.RegisterRoutes(router)
	accountHandler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &App{
		config:     cfg,
		httpServer: httpServer,
		db:         db,
		redis:      redisClient,
		rabbitMQ:   rmq,
		dispatcher: dispatcher,
	}, nil
}

// Run запускает приложение
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запускаем фоновую доставку исходящих сообщений
	a.dispatcher.Start()

	// Запускаем HTTP сервер в горутине
	go func() {
		log.Printf("Сервис оформления заказов запущен на порту %s", a.config.HTTP.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска HTTP сервера: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Получен сигнал завершения, закрываем приложение...")
	case <-ctx.Done():
		log.Println("Контекст завершен, закрываем приложение...")
	}

	return a.Shutdown()
}

// Shutdown корректно завершает работу приложения
func (a *App) Shutdown() error {
	errGroup := errors.NewErrorGroup()

	// Закрываем HTTP сервер
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.httpServer.Shutdown(ctx); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии HTTP сервера")
		}
	}

	// Останавливаем диспетчер исходящих сообщений
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	// Закрываем RabbitMQ
	if a.rabbitMQ != nil {
		errGroup.Add(a.rabbitMQ.Close())
	}

	// Закрываем Redis
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии соединения с Redis")
		}
	}

	// Закрываем соединение с базой данных
	if a.db != nil {
		if err := database.CloseDB(a.db); err != nil {
			errGroup.AddPrefix(err, "ошибка при закрытии соединения с базой данных")
		}
	}

	if errGroup.HasErrors() {
		errors.LogError(errGroup, "Shutdown")
		return errGroup
	}

	log.Println("Приложение успешно завершено")
	return nil
}
