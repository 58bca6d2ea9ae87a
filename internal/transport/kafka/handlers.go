package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"

	"github.com/segmentio/kafka-go"
)

// OrderCreator — это интерфейс, который абстрагирует консьюмер
// от конкретной реализации сервисного слоя
type OrderCreator interface {
	CreateOrder(ctx context.Context, order model.OrderSnapshot) error
}

// ProductChangeHandler реагирует на изменения товаров в других сервисах
type ProductChangeHandler interface {
	HandleProductChanged(ctx context.Context, event model.ProductChanged) error
}

// OrderHandler принимает заказы из топика orders в любой из исторических форм
type OrderHandler struct {
	service OrderCreator
	log     *slog.Logger
}

func NewOrderHandler(service OrderCreator, log *slog.Logger) *OrderHandler {
	return &OrderHandler{service: service, log: log}
}

// HandleMessage парсит, нормализует и сохраняет один заказ
func (h *OrderHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var upstream model.UpstreamOrder

	// распарсим JSON
	if err := json.Unmarshal(msg.Value, &upstream); err != nil {
		// сообщение невалидно, перечитывать его бессмысленно
		h.log.Warn("failed to unmarshal order message, skipping", logger.Err(err))
		return nil
	}

	order, err := upstream.Normalize()
	if err != nil {
		h.log.Warn("failed to normalize order, skipping", logger.Err(err))
		return nil
	}

	// валидация данных
	if err := order.Validate(); err != nil {
		h.log.Warn("message validation failed, skipping",
			logger.Err(err),
			slog.String("order_id", order.OrderID),
		)
		return nil // также не перечитываем
	}

	// передаём заказ в сервисный слой для сохранения в БД и кэше
	if err := h.service.CreateOrder(ctx, order); err != nil {
		h.log.Error("failed to create order in service",
			logger.Err(err),
			slog.String("order_id", order.OrderID),
		)
		return err
	}

	h.log.Info("order successfully processed", slog.String("order_id", order.OrderID))
	return nil
}

// ProductEventHandler принимает события топика products.changed
type ProductEventHandler struct {
	service ProductChangeHandler
	log     *slog.Logger
}

func NewProductEventHandler(service ProductChangeHandler, log *slog.Logger) *ProductEventHandler {
	return &ProductEventHandler{service: service, log: log}
}

// HandleMessage сбрасывает кэши по изменённому товару
// ключ сообщения используется как id товара, если в теле его нет
func (h *ProductEventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event model.ProductChanged
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.log.Warn("failed to unmarshal product event, skipping", logger.Err(err))
		return nil
	}
	if event.ProductID == "" {
		event.ProductID = string(msg.Key)
	}
	if err := event.Validate(); err != nil {
		h.log.Warn("product event validation failed, skipping", logger.Err(err))
		return nil
	}

	return h.service.HandleProductChanged(ctx, event)
}
