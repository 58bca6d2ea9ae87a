// Package pricing содержит общие денежные расчёты повторного заказа
package pricing

import (
	"fmt"

	"github.com/asquebay/farm-market/internal/config"
	"github.com/asquebay/farm-market/internal/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DeliveryFeePolicy определяет стоимость доставки для пересчитанного заказа
type DeliveryFeePolicy interface {
	Fee(order model.OrderSnapshot, subtotal decimal.Decimal) decimal.Decimal
}

// OriginalFee повторяет доставку исходного заказа
type OriginalFee struct{}

func (OriginalFee) Fee(order model.OrderSnapshot, _ decimal.Decimal) decimal.Decimal {
	return order.DeliveryFee
}

// FlatFee — фиксированная доставка
type FlatFee struct {
	Amount decimal.Decimal
}

func (f FlatFee) Fee(_ model.OrderSnapshot, _ decimal.Decimal) decimal.Decimal {
	return f.Amount
}

// ThresholdWaiver — фиксированная доставка, бесплатная начиная с порога
// пустая корзина доставку не оплачивает
type ThresholdWaiver struct {
	Amount    decimal.Decimal
	Threshold decimal.Decimal
}

func (t ThresholdWaiver) Fee(_ model.OrderSnapshot, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsZero() || subtotal.GreaterThanOrEqual(t.Threshold) {
		return decimal.Zero
	}
	return t.Amount
}

// NewPolicy собирает политику доставки из конфигурации
func NewPolicy(cfg config.Reorder) (DeliveryFeePolicy, error) {
	const op = "pricing.NewPolicy"

	switch cfg.DeliveryFeePolicy {
	case "", "original":
		return OriginalFee{}, nil
	case "flat":
		fee, err := cfg.Fee()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return FlatFee{Amount: fee}, nil
	case "threshold":
		fee, err := cfg.Fee()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		threshold, err := cfg.Threshold()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return ThresholdWaiver{Amount: fee, Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("%s: unknown delivery fee policy %q", op, cfg.DeliveryFeePolicy)
	}
}

// LineTotal — цена, умноженная на количество
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// PriceChangePercent возвращает изменение цены в процентах с одним знаком после запятой
// при нулевой исходной цене процент не определён и считается нулевым
func PriceChangePercent(original, current decimal.Decimal) decimal.Decimal {
	if original.IsZero() {
		return decimal.Zero
	}
	return current.Sub(original).Div(original).Mul(hundred).Round(1)
}

// RoundMoney округляет сумму до копеек
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
