package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asquebay/farm-market/internal/catalog"
	"github.com/asquebay/farm-market/internal/config"
	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/pricing"
	"github.com/asquebay/farm-market/internal/reconciler"
	"github.com/asquebay/farm-market/internal/repository/cache"
	"github.com/asquebay/farm-market/internal/repository/postgres"
	"github.com/asquebay/farm-market/internal/service"
	httptransport "github.com/asquebay/farm-market/internal/transport/http"
	"github.com/asquebay/farm-market/internal/transport/kafka"
)

func main() {
	// 1. Инициализация конфигурации
	cfg := config.MustLoad()

	// 2. Инициализация логгера
	log := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	log.Info("starting farm-market", slog.String("log_level", cfg.Logger.Level))

	// 3. Инициализация репозитория (БД)
	initCtx := context.Background()
	dbpool, err := postgres.New(initCtx, cfg.Postgres)
	if err != nil {
		log.Error("failed to connect to postgres", logger.Err(err))
		os.Exit(1)
	}
	defer dbpool.Close()
	log.Info("successfully connected to postgres")

	orderRepo := postgres.NewOrderRepository(dbpool)
	productRepo := postgres.NewProductRepository(dbpool)

	// 4. Redis необязателен: без него карточки читаются из БД, а блокировки живут в процессе
	rdb, err := cache.NewRedisClient(initCtx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", logger.Err(err))
		os.Exit(1)
	}
	var locker service.Locker = cache.NewLocalLocker()
	if rdb != nil {
		defer rdb.Close()
		locker = cache.NewRedisLocker(rdb)
		log.Info("successfully connected to redis")
	} else {
		log.Warn("redis is not configured, product cache disabled")
	}
	productCache := cache.NewProductCache(rdb, cfg.Redis.ProductTTL)

	// 5. Инициализация кэшей
	orderCache := cache.NewOrderCache()
	productCatalog := catalog.New(productRepo, productCache, log, catalog.Options{
		BatchWait:     cfg.Catalog.BatchWait,
		BatchCapacity: cfg.Catalog.BatchCapacity,
	})

	queryCache := reconciler.NewCache(
		service.ProductFetcher(productRepo),
		log,
		reconciler.WithRefetchTimeout[model.Product](cfg.Cache.RefetchTimeout),
		reconciler.WithIdleTTL[model.Product](cfg.Cache.IdleTTL),
		reconciler.WithMaxEntries[model.Product](cfg.Cache.MaxEntries),
	)
	productReconciler := reconciler.New(queryCache, log,
		reconciler.WithCooldown[model.Product](cfg.Cache.InvalidateCooldown),
		reconciler.WithClassifier[model.Product](service.ClassifyProductError),
	)
	defer productReconciler.Close()
	log.Info("caches initialized")

	fees, err := pricing.NewPolicy(cfg.Reorder)
	if err != nil {
		log.Error("invalid delivery fee policy", logger.Err(err))
		os.Exit(1)
	}

	// 6. Публикация событий
	var publisher service.Publisher
	if cfg.Kafka.ReorderTopic != "" {
		reorderPublisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ReorderTopic, log)
		defer func() {
			if err := reorderPublisher.Close(); err != nil {
				log.Error("error closing kafka publisher", logger.Err(err))
			}
		}()
		publisher = reorderPublisher
	}

	// 7. Инициализация сервисного слоя
	orderSvc := service.NewOrderService(orderRepo, orderCache, log)
	reorderSvc := service.NewReorderService(orderSvc, productCatalog, fees, publisher, log)
	productSvc := service.NewProductService(productRepo, productReconciler, productCatalog, locker, cfg.Redis.LockTTL, log)

	// 8. Восстановление кэша из БД при старте
	if err := orderSvc.RestoreCache(initCtx); err != nil {
		// не фатальная ошибка, сервис может работать и с пустым кэшем
		log.Error("failed to restore cache", logger.Err(err))
	}

	// 9. Инициализация и запуск Kafka-консьюмеров
	ctx, cancel := context.WithCancel(context.Background())

	consumers := []*kafka.Consumer{
		kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, cfg.Kafka.GroupID,
			kafka.NewOrderHandler(orderSvc, log), log),
	}
	if cfg.Kafka.ProductEventsTopic != "" {
		consumers = append(consumers, kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ProductEventsTopic, cfg.Kafka.GroupID,
			kafka.NewProductEventHandler(productSvc, log), log))
	}
	for _, consumer := range consumers {
		go consumer.Run(ctx)
	}
	go queryCache.RunSweeper(ctx, cfg.Cache.SweepInterval)

	// 10. Инициализация и запуск HTTP-сервера
	handler := httptransport.NewHandler(orderSvc, reorderSvc, productSvc, log)
	httpServer := httptransport.NewServer(cfg.HTTPServer.Port, handler, cfg.HTTPServer.Timeout)
	log.Info("starting http server", slog.String("port", cfg.HTTPServer.Port))

	go func() {
		if err := httpServer.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed to start", logger.Err(err))
			os.Exit(1)
		}
	}()

	// 11. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down application")
	cancel() // сигнал для консьюмеров на завершение

	// создаем контекст с таймаутом для шатдауна сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
	}

	for _, consumer := range consumers {
		if err := consumer.Close(); err != nil {
			log.Error("error closing kafka consumer", logger.Err(err))
		}
	}

	log.Info("application stopped")
}
