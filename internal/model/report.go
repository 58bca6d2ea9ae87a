package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// причины, по которым позиция попала в недоступные
const (
	ReasonNoLongerAvailable = "Product no longer available"
	ReasonOutOfStock        = "Out of stock"
	ReasonLookupFailed      = "Lookup failed"
)

// ValidationReport — результат повторной проверки заказа
// не сохраняется; не содержит времени проверки, чтобы одинаковые входы давали одинаковые байты
type ValidationReport struct {
	OrderID          string            `json:"order_id"`
	OriginalOrder    OriginalOrderInfo `json:"original_order"`
	AvailableItems   []AvailableItem   `json:"available_items"`
	UnavailableItems []UnavailableItem `json:"unavailable_items"`
	PriceChanges     []PriceChange     `json:"price_changes"`
	StockIssues      []StockIssue      `json:"stock_issues"`
	Pricing          ReorderPricing    `json:"pricing"`
	Summary          ReportSummary     `json:"summary"`
}

type OriginalOrderInfo struct {
	OrderID     string          `json:"order_id"`
	OrderDate   time.Time       `json:"order_date"`
	Total       decimal.Decimal `json:"total"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	ItemCount   int             `json:"item_count"`
}

type AvailableItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Stock       int             `json:"stock"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit,omitempty"`
	Image       string          `json:"image,omitempty"`
}

type UnavailableItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
}

// PriceChange — изменение цены; положительная разница означает подорожание
type PriceChange struct {
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	OriginalPrice      decimal.Decimal `json:"original_price"`
	CurrentPrice       decimal.Decimal `json:"current_price"`
	PriceDifference    decimal.Decimal `json:"price_difference"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
}

// StockIssue — товар есть, но меньше, чем было заказано
type StockIssue struct {
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	RequestedQuantity int             `json:"requested_quantity"`
	AvailableStock    int             `json:"available_stock"`
	Price             decimal.Decimal `json:"price"`
	Image             string          `json:"image,omitempty"`
}

type ReorderPricing struct {
	OriginalSubtotal     decimal.Decimal `json:"original_subtotal"`
	EstimatedSubtotal    decimal.Decimal `json:"estimated_subtotal"`
	EstimatedDeliveryFee decimal.Decimal `json:"estimated_delivery_fee"`
	EstimatedTotal       decimal.Decimal `json:"estimated_total"`
	TotalDifference      decimal.Decimal `json:"total_difference"`
}

type ReportSummary struct {
	TotalItems        int  `json:"total_items"`
	AvailableCount    int  `json:"available_count"`
	UnavailableCount  int  `json:"unavailable_count"`
	PriceChangesCount int  `json:"price_changes_count"`
	StockIssuesCount  int  `json:"stock_issues_count"`
	ReorderSuccess    bool `json:"reorder_success"`
}
