// Package reorder проверяет исторический заказ по актуальному каталогу
package reorder

import (
	"context"
	"errors"
	"log/slog"

	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/pricing"

	"github.com/shopspring/decimal"
)

// ProductLookup — пакетный поиск товаров по id
// i-й результат соответствует i-му id; errs может быть nil или той же длины
// nil-товар или ошибка model.ErrProductNotFound означают, что товара нет
type ProductLookup interface {
	GetProducts(ctx context.Context, ids []string) ([]*model.Product, []error)
}

// Validator строит отчёт о повторном заказе
// чистая функция от заказа и каталога: ничего не пишет и не кэширует
type Validator struct {
	fees pricing.DeliveryFeePolicy
	log  *slog.Logger
}

// NewValidator создаёт валидатор; nil-политика означает доставку исходного заказа
func NewValidator(fees pricing.DeliveryFeePolicy, log *slog.Logger) *Validator {
	if fees == nil {
		fees = pricing.OriginalFee{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Validator{fees: fees, log: log}
}

type lookupResult struct {
	product *model.Product
	err     error
}

// Validate раскладывает позиции заказа по корзинам и пересчитывает стоимость
// ошибка поиска одной позиции не прерывает проверку остальных
func (v *Validator) Validate(ctx context.Context, order model.OrderSnapshot, catalog ProductLookup) model.ValidationReport {
	const op = "reorder.Validator.Validate"
	log := v.log.With(slog.String("op", op), slog.String("order_id", order.OrderID))

	report := model.ValidationReport{
		OrderID: order.OrderID,
		OriginalOrder: model.OriginalOrderInfo{
			OrderID:     order.OrderID,
			OrderDate:   order.OrderDate,
			Total:       order.Total,
			DeliveryFee: order.DeliveryFee,
			ItemCount:   len(order.Items),
		},
		AvailableItems:   []model.AvailableItem{},
		UnavailableItems: []model.UnavailableItem{},
		PriceChanges:     []model.PriceChange{},
		StockIssues:      []model.StockIssue{},
	}

	results := lookup(ctx, order.ProductIDs(), catalog)

	originalSubtotal := decimal.Zero
	estimatedSubtotal := decimal.Zero

	for i, item := range order.Items {
		originalSubtotal = originalSubtotal.Add(pricing.LineTotal(item.PriceAtOrderTime, item.Quantity))

		res := results[i]
		product := res.product

		switch {
		case res.err != nil && !errors.Is(res.err, model.ErrProductNotFound):
			log.Warn("product lookup failed",
				slog.String("product_id", item.ProductID),
				logger.Err(res.err),
			)
			report.UnavailableItems = append(report.UnavailableItems, unavailable(item, model.ReasonLookupFailed))
			continue
		case product == nil || !product.Available():
			report.UnavailableItems = append(report.UnavailableItems, unavailable(item, model.ReasonNoLongerAvailable))
			continue
		case product.Stock <= 0:
			report.UnavailableItems = append(report.UnavailableItems, unavailable(item, model.ReasonOutOfStock))
			continue
		case product.Stock < item.Quantity:
			report.StockIssues = append(report.StockIssues, model.StockIssue{
				ProductID:         item.ProductID,
				ProductName:       displayName(item, product),
				RequestedQuantity: item.Quantity,
				AvailableStock:    product.Stock,
				Price:             product.Price,
				Image:             firstNonEmpty(product.Image, item.Image),
			})
		default:
			report.AvailableItems = append(report.AvailableItems, model.AvailableItem{
				ProductID:   item.ProductID,
				ProductName: displayName(item, product),
				Quantity:    item.Quantity,
				Stock:       product.Stock,
				Price:       product.Price,
				Unit:        product.Unit,
				Image:       firstNonEmpty(product.Image, item.Image),
			})
			estimatedSubtotal = estimatedSubtotal.Add(pricing.LineTotal(product.Price, item.Quantity))
		}

		// сюда доходят только доступные позиции и позиции с нехваткой остатка
		if !product.Price.Equal(item.PriceAtOrderTime) {
			report.PriceChanges = append(report.PriceChanges, model.PriceChange{
				ProductID:          item.ProductID,
				ProductName:        displayName(item, product),
				OriginalPrice:      item.PriceAtOrderTime,
				CurrentPrice:       product.Price,
				PriceDifference:    product.Price.Sub(item.PriceAtOrderTime),
				PriceChangePercent: pricing.PriceChangePercent(item.PriceAtOrderTime, product.Price),
			})
		}
	}

	fee := v.fees.Fee(order, estimatedSubtotal)
	estimatedTotal := estimatedSubtotal.Add(fee)

	report.Pricing = model.ReorderPricing{
		OriginalSubtotal:     originalSubtotal,
		EstimatedSubtotal:    estimatedSubtotal,
		EstimatedDeliveryFee: fee,
		EstimatedTotal:       estimatedTotal,
		TotalDifference:      estimatedTotal.Sub(order.Total),
	}

	report.Summary = model.ReportSummary{
		TotalItems:        len(order.Items),
		AvailableCount:    len(report.AvailableItems),
		UnavailableCount:  len(report.UnavailableItems),
		PriceChangesCount: len(report.PriceChanges),
		StockIssuesCount:  len(report.StockIssues),
		ReorderSuccess:    len(report.AvailableItems) > 0,
	}

	log.Debug("order validated",
		slog.Int("available", report.Summary.AvailableCount),
		slog.Int("unavailable", report.Summary.UnavailableCount),
		slog.Int("stock_issues", report.Summary.StockIssuesCount),
		slog.Int("price_changes", report.Summary.PriceChangesCount),
	)

	return report
}

// lookup выравнивает ответ каталога по позициям заказа
func lookup(ctx context.Context, ids []string, catalog ProductLookup) []lookupResult {
	results := make([]lookupResult, len(ids))
	if len(ids) == 0 {
		return results
	}

	products, errs := catalog.GetProducts(ctx, ids)
	for i := range ids {
		if i < len(errs) && errs[i] != nil {
			results[i].err = errs[i]
			continue
		}
		if i >= len(products) {
			// каталог вернул меньше ответов, чем запросили
			results[i].err = errShortLookup
			continue
		}
		results[i].product = products[i]
	}
	return results
}

var errShortLookup = errors.New("catalog returned fewer results than requested")

func unavailable(item model.OrderLineItem, reason string) model.UnavailableItem {
	return model.UnavailableItem{
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		Reason:      reason,
	}
}

func displayName(item model.OrderLineItem, product *model.Product) string {
	return firstNonEmpty(item.ProductName, product.Name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
