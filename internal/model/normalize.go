package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMissingOrderID = errors.New("upstream order has no id")

// UpstreamOrder принимает все известные формы заказа от старых клиентов
// ядро никогда не видит эту структуру — только результат Normalize
type UpstreamOrder struct {
	MongoID          string              `json:"_id"`
	OrderID          string              `json:"orderId"`
	OrderIDSnake     string              `json:"order_id"`
	Customer         *UpstreamRef        `json:"customer"`
	CustomerID       string              `json:"customerId"`
	CustomerIDSnake  string              `json:"customer_id"`
	CreatedAt        *time.Time          `json:"createdAt"`
	OrderDate        *time.Time          `json:"orderDate"`
	OrderDateSnake   *time.Time          `json:"order_date"`
	Total            decimal.NullDecimal `json:"total"`
	TotalAmount      decimal.NullDecimal `json:"totalAmount"`
	DeliveryFee      decimal.NullDecimal `json:"deliveryFee"`
	DeliveryFeeSnake decimal.NullDecimal `json:"delivery_fee"`
	Items            []UpstreamLineItem  `json:"items"`
}

// UpstreamLineItem — позиция заказа в любой из форм
type UpstreamLineItem struct {
	ProductID        string              `json:"productId"`
	ProductIDSnake   string              `json:"product_id"`
	Product          *UpstreamRef        `json:"product"`
	Name             string              `json:"name"`
	ProductName      string              `json:"productName"`
	ProductNameSnake string              `json:"product_name"`
	Quantity         int                 `json:"quantity"`
	Price            decimal.NullDecimal `json:"price"`
	PriceAtOrderTime decimal.NullDecimal `json:"price_at_order_time"`
	Subtotal         decimal.NullDecimal `json:"subtotal"`
	Image            string              `json:"image"`
}

// UpstreamRef — ссылка на документ: либо строковый id, либо вложенный объект
type UpstreamRef struct {
	MongoID string   `json:"_id"`
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Images  []string `json:"images"`
}

func (r *UpstreamRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}

	type plain UpstreamRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = UpstreamRef(p)
	return nil
}

func (r *UpstreamRef) ref() string {
	if r == nil {
		return ""
	}
	return firstNonEmpty(r.MongoID, r.ID)
}

// Normalize приводит заказ к каноническому виду
func (u UpstreamOrder) Normalize() (OrderSnapshot, error) {
	const op = "model.UpstreamOrder.Normalize"

	order := OrderSnapshot{
		OrderID:    firstNonEmpty(u.OrderID, u.OrderIDSnake, u.MongoID),
		CustomerID: firstNonEmpty(u.CustomerID, u.CustomerIDSnake, u.Customer.ref()),
	}
	if order.OrderID == "" {
		return OrderSnapshot{}, fmt.Errorf("%s: %w", op, ErrMissingOrderID)
	}

	switch {
	case u.OrderDate != nil:
		order.OrderDate = u.OrderDate.UTC()
	case u.OrderDateSnake != nil:
		order.OrderDate = u.OrderDateSnake.UTC()
	case u.CreatedAt != nil:
		order.OrderDate = u.CreatedAt.UTC()
	}

	order.Items = make([]OrderLineItem, 0, len(u.Items))
	for _, item := range u.Items {
		order.Items = append(order.Items, item.normalize())
	}

	subtotal := order.Subtotal()
	total, hasTotal := firstValid(u.Total, u.TotalAmount)
	fee, hasFee := firstValid(u.DeliveryFee, u.DeliveryFeeSnake)

	switch {
	case hasFee:
		order.DeliveryFee = fee
	case hasTotal && total.GreaterThan(subtotal):
		// старые заказы не хранили доставку отдельно
		order.DeliveryFee = total.Sub(subtotal)
	default:
		order.DeliveryFee = decimal.Zero
	}

	if hasTotal {
		order.Total = total
	} else {
		order.Total = subtotal.Add(order.DeliveryFee)
	}

	return order, nil
}

func (i UpstreamLineItem) normalize() OrderLineItem {
	item := OrderLineItem{
		ProductID: firstNonEmpty(i.ProductID, i.ProductIDSnake, i.Product.ref()),
		Quantity:  i.Quantity,
		Image:     i.Image,
	}

	item.ProductName = firstNonEmpty(i.ProductName, i.ProductNameSnake, i.Name)
	if i.Product != nil {
		item.ProductName = firstNonEmpty(item.ProductName, i.Product.Name)
		if item.Image == "" && len(i.Product.Images) > 0 {
			item.Image = i.Product.Images[0]
		}
	}

	if price, ok := firstValid(i.PriceAtOrderTime, i.Price); ok {
		item.PriceAtOrderTime = price
		return item
	}

	switch {
	case i.Subtotal.Valid && i.Quantity > 0:
		// subtotal — сумма по позиции, цену за единицу восстанавливаем делением
		item.PriceAtOrderTime = i.Subtotal.Decimal.Div(decimal.NewFromInt(int64(i.Quantity))).Round(2)
	default:
		item.PriceAtOrderTime = decimal.Zero
	}

	return item
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstValid(values ...decimal.NullDecimal) (decimal.Decimal, bool) {
	for _, v := range values {
		if v.Valid {
			return v.Decimal, true
		}
	}
	return decimal.Zero, false
}
