package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderReordered публикуется после оформления повторного заказа
type OrderReordered struct {
	OrderID       string          `json:"order_id"`
	SourceOrderID string          `json:"source_order_id"`
	CustomerID    string          `json:"customer_id"`
	ItemCount     int             `json:"item_count"`
	Total         decimal.Decimal `json:"total"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ProductChanged приходит из других сервисов, когда товар изменился в обход этого сервиса
type ProductChanged struct {
	ProductID string `json:"product_id" validate:"required"`
	FarmerID  string `json:"farmer_id"`
}

// Validate проверяет событие
func (e *ProductChanged) Validate() error {
	return validate.Struct(e)
}
