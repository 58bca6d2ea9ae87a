package model

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
)

// OrderSnapshot — неизменяемая запись оформленного заказа
// создаётся при оформлении и больше никогда не меняется
type OrderSnapshot struct {
	OrderID     string          `json:"order_id" validate:"required"`
	CustomerID  string          `json:"customer_id" validate:"required"`
	OrderDate   time.Time       `json:"order_date" validate:"required"`
	Items       []OrderLineItem `json:"items" validate:"required,gt=0,dive"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	// Total включает стоимость доставки
	Total decimal.Decimal `json:"total"`
}

// OrderLineItem — одна позиция заказа с ценой на момент покупки
type OrderLineItem struct {
	ProductID        string          `json:"product_id" validate:"required"`
	ProductName      string          `json:"product_name"`
	Quantity         int             `json:"quantity" validate:"gt=0"`
	PriceAtOrderTime decimal.Decimal `json:"price_at_order_time"`
	Image            string          `json:"image,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// validator не умеет сравнивать decimal.Decimal, поэтому проверяем деньги отдельно
	v.RegisterStructValidation(orderLineItemLevel, OrderLineItem{})
	v.RegisterStructValidation(orderSnapshotLevel, OrderSnapshot{})
	v.RegisterStructValidation(productPatchLevel, ProductPatch{})
	return v
}

func orderLineItemLevel(sl validator.StructLevel) {
	item := sl.Current().Interface().(OrderLineItem)
	if item.PriceAtOrderTime.IsNegative() {
		sl.ReportError(item.PriceAtOrderTime, "PriceAtOrderTime", "price_at_order_time", "gte", "0")
	}
}

func orderSnapshotLevel(sl validator.StructLevel) {
	order := sl.Current().Interface().(OrderSnapshot)
	if order.DeliveryFee.IsNegative() {
		sl.ReportError(order.DeliveryFee, "DeliveryFee", "delivery_fee", "gte", "0")
	}
	if order.Total.IsNegative() {
		sl.ReportError(order.Total, "Total", "total", "gte", "0")
	}
}

// Validate проверяет корректность снимка заказа на основе тегов validate
func (o *OrderSnapshot) Validate() error {
	return validate.Struct(o)
}

// Subtotal возвращает сумму позиций по ценам на момент заказа
func (o *OrderSnapshot) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

// ProductIDs возвращает идентификаторы товаров в порядке позиций заказа
func (o *OrderSnapshot) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// LineTotal — стоимость позиции по цене на момент заказа
func (i OrderLineItem) LineTotal() decimal.Decimal {
	return i.PriceAtOrderTime.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
