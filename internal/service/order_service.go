package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"
)

// RestoreLimit — сколько последних заказов прогревается в кэш при старте
const RestoreLimit = 1000

// OrderService инкапсулирует бизнес-логику работы со снимками заказов
type OrderService struct {
	repo  OrderRepository
	cache OrderCache
	log   *slog.Logger
}

// NewOrderService создаёт новый экземпляр сервиса заказов
// он принимает интерфейсы, а не конкретные типы, для гибкости и тестируемости
func NewOrderService(repo OrderRepository, cache OrderCache, log *slog.Logger) *OrderService {
	return &OrderService{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// CreateOrder обрабатывает создание нового заказа
// сначала он сохраняет заказ в постоянное хранилище (БД),
// и только в случае успеха добавляет его в кэш
func (s *OrderService) CreateOrder(ctx context.Context, order model.OrderSnapshot) error {
	const op = "service.OrderService.CreateOrder"
	log := s.log.With(slog.String("op", op), slog.String("order_id", order.OrderID))

	log.Info("attempting to create order")

	if err := order.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// 1. Сохраняем в БД. Это основной источник правды
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		log.Error("failed to save order to repository", logger.Err(err))
		// ошибку не маскируем, а оборачиваем для контекста
		return fmt.Errorf("%s: %w", op, err)
	}

	// 2. Если в БД сохранилось успешно, обновляем кэш
	s.cache.Set(order)
	log.Info("order created and cached successfully")

	return nil
}

// GetOrderByID получает заказ по его ID
// сначала ищет в кэше, и только если там нет — обращается к БД
func (s *OrderService) GetOrderByID(ctx context.Context, orderID string) (model.OrderSnapshot, error) {
	const op = "service.OrderService.GetOrderByID"
	log := s.log.With(slog.String("op", op), slog.String("order_id", orderID))

	// 1. Пытаемся получить из кэша для максимальной скорости
	order, found := s.cache.Get(orderID)
	if found {
		log.Debug("order found in cache")
		return order, nil
	}

	log.Debug("order not found in cache, will check repository")

	// 2. Если в кэше нет, идем в БД
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		// не логируем как ошибку, если просто не найдено
		if !errors.Is(err, model.ErrOrderNotFound) {
			log.Error("failed to get order from repository", logger.Err(err))
		}
		return model.OrderSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	// 3. Раз уж мы достали заказ из БД, стоит положить его в кэш
	s.cache.Set(order)
	log.Info("order found in repository and now cached")

	return order, nil
}

// RestoreCache восстанавливает состояние кэша из базы данных при старте
func (s *OrderService) RestoreCache(ctx context.Context) error {
	const op = "service.OrderService.RestoreCache"
	log := s.log.With(slog.String("op", op))

	log.Info("starting cache restoration from database")

	orders, err := s.repo.GetRecentOrders(ctx, RestoreLimit)
	if err != nil {
		log.Error("failed to get recent orders from repository", logger.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.cache.LoadAll(orders)

	log.Info("cache restored successfully", slog.Int("orders_count", len(orders)))
	return nil
}
