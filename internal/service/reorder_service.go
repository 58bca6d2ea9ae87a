package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/pricing"
	"github.com/asquebay/farm-market/internal/reorder"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNothingToReorder — после проверки не осталось ни одной позиции, которую можно заказать
var ErrNothingToReorder = errors.New("nothing to reorder")

// OrderStore — чтение и создание заказов, реализуется OrderService
type OrderStore interface {
	GetOrderByID(ctx context.Context, orderID string) (model.OrderSnapshot, error)
	CreateOrder(ctx context.Context, order model.OrderSnapshot) error
}

// ReorderOptions — выбор покупателя при повторном заказе
type ReorderOptions struct {
	// CustomerID пустой — заказ оформляется на покупателя исходного заказа
	CustomerID string `json:"customer_id"`
	// AcceptPartial — добавить позиции с нехваткой остатка в доступном количестве
	AcceptPartial bool `json:"accept_partial"`
}

// ReorderResult — новый заказ и отчёт, по которому он собран
type ReorderResult struct {
	Order  model.OrderSnapshot    `json:"order"`
	Report model.ValidationReport `json:"report"`
}

// ReorderService проверяет и повторяет исторические заказы
type ReorderService struct {
	orders    OrderStore
	catalog   reorder.ProductLookup
	validator *reorder.Validator
	fees      pricing.DeliveryFeePolicy
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewReorderService создаёт сервис; publisher может быть nil
func NewReorderService(
	orders OrderStore,
	catalog reorder.ProductLookup,
	fees pricing.DeliveryFeePolicy,
	publisher Publisher,
	log *slog.Logger,
) *ReorderService {
	if fees == nil {
		fees = pricing.OriginalFee{}
	}
	return &ReorderService{
		orders:    orders,
		catalog:   catalog,
		validator: reorder.NewValidator(fees, log),
		fees:      fees,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Validate строит отчёт о повторном заказе по актуальному каталогу
func (s *ReorderService) Validate(ctx context.Context, orderID string) (model.ValidationReport, error) {
	const op = "service.ReorderService.Validate"

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return model.ValidationReport{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.validator.Validate(ctx, order, s.catalog), nil
}

// Reorder оформляет новый заказ из доступных позиций исходного
// каталог проверяется заново: отчёт, показанный покупателю, мог устареть
func (s *ReorderService) Reorder(ctx context.Context, orderID string, opts ReorderOptions) (ReorderResult, error) {
	const op = "service.ReorderService.Reorder"
	log := s.log.With(slog.String("op", op), slog.String("source_order_id", orderID))

	source, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return ReorderResult{}, fmt.Errorf("%s: %w", op, err)
	}

	report := s.validator.Validate(ctx, source, s.catalog)

	items := reorderItems(report, opts.AcceptPartial)

	if len(items) == 0 {
		log.Info("nothing left to reorder",
			slog.Int("unavailable", report.Summary.UnavailableCount),
			slog.Int("stock_issues", report.Summary.StockIssuesCount),
		)
		return ReorderResult{Report: report}, fmt.Errorf("%s: %w", op, ErrNothingToReorder)
	}

	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(pricing.LineTotal(it.PriceAtOrderTime, it.Quantity))
	}
	fee := s.fees.Fee(source, subtotal)

	customerID := opts.CustomerID
	if customerID == "" {
		customerID = source.CustomerID
	}

	order := model.OrderSnapshot{
		OrderID:     uuid.NewString(),
		CustomerID:  customerID,
		OrderDate:   s.now().UTC(),
		Items:       items,
		DeliveryFee: fee,
		Total:       pricing.RoundMoney(subtotal.Add(fee)),
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return ReorderResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("order_id", order.OrderID))
	log.Info("reorder created", slog.Int("items", len(items)), slog.String("total", order.Total.String()))

	// заказ уже сохранён, поэтому ошибку публикации только логируем
	if s.publisher != nil {
		event := model.OrderReordered{
			OrderID:       order.OrderID,
			SourceOrderID: source.OrderID,
			CustomerID:    order.CustomerID,
			ItemCount:     len(order.Items),
			Total:         order.Total,
			CreatedAt:     order.OrderDate,
		}
		if err := s.publisher.PublishEvent(ctx, order.OrderID, event); err != nil {
			log.Error("failed to publish reorder event", logger.Err(err))
		}
	}

	return ReorderResult{Order: order, Report: report}, nil
}

// reorderItems собирает позиции нового заказа из отчёта
// остаток товара делится между всеми строками с этим товаром: строки проверяются
// по одной, и вместе они могут превысить остаток
func reorderItems(report model.ValidationReport, acceptPartial bool) []model.OrderLineItem {
	remaining := make(map[string]int, len(report.AvailableItems)+len(report.StockIssues))
	for _, it := range report.AvailableItems {
		remaining[it.ProductID] = it.Stock
	}
	for _, it := range report.StockIssues {
		remaining[it.ProductID] = it.AvailableStock
	}

	take := func(productID string, quantity int) int {
		left := remaining[productID]
		if quantity > left {
			if !acceptPartial {
				return 0
			}
			quantity = left
		}
		remaining[productID] = left - quantity
		return quantity
	}

	items := make([]model.OrderLineItem, 0, len(report.AvailableItems)+len(report.StockIssues))
	for _, it := range report.AvailableItems {
		if q := take(it.ProductID, it.Quantity); q > 0 {
			items = append(items, model.OrderLineItem{
				ProductID:        it.ProductID,
				ProductName:      it.ProductName,
				Quantity:         q,
				PriceAtOrderTime: it.Price,
				Image:            it.Image,
			})
		}
	}
	if acceptPartial {
		for _, it := range report.StockIssues {
			if q := take(it.ProductID, it.RequestedQuantity); q > 0 {
				items = append(items, model.OrderLineItem{
					ProductID:        it.ProductID,
					ProductName:      it.ProductName,
					Quantity:         q,
					PriceAtOrderTime: it.Price,
					Image:            it.Image,
				})
			}
		}
	}
	return items
}
