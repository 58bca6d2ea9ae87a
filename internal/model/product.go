package model

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ProductStatus — состояние товара в каталоге
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
	ProductRemoved  ProductStatus = "removed"
)

// Valid сообщает, известен ли статус
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductActive, ProductInactive, ProductRemoved:
		return true
	}
	return false
}

// Product — актуальная запись каталога
// принадлежит каталогу, меняется покупками и массовыми обновлениями
type Product struct {
	ID        string          `json:"id"`
	FarmerID  string          `json:"farmer_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Unit      string          `json:"unit"`
	Status    ProductStatus   `json:"status"`
	Image     string          `json:"image,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EntityID нужен кэшу запросов, чтобы находить товар внутри коллекции
func (p Product) EntityID() string {
	return p.ID
}

// Available сообщает, можно ли вообще заказать товар
func (p Product) Available() bool {
	return p.Status == ProductActive
}

// ProductPatch — частичное обновление товара
// nil-поля не меняются
type ProductPatch struct {
	ProductID string           `json:"product_id" validate:"required"`
	Name      *string          `json:"name,omitempty" validate:"omitempty,min=1"`
	Category  *string          `json:"category,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Stock     *int             `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Unit      *string          `json:"unit,omitempty"`
	Status    *ProductStatus   `json:"status,omitempty"`
}

func productPatchLevel(sl validator.StructLevel) {
	patch := sl.Current().Interface().(ProductPatch)
	if patch.Price != nil && patch.Price.IsNegative() {
		sl.ReportError(patch.Price, "Price", "price", "gte", "0")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		sl.ReportError(patch.Status, "Status", "status", "oneof", "active inactive removed")
	}
	if patch.Empty() {
		sl.ReportError(patch.ProductID, "ProductID", "product_id", "nonempty_patch", "")
	}
}

// Validate проверяет патч перед отправкой в хранилище
func (p *ProductPatch) Validate() error {
	return validate.Struct(p)
}

// Empty сообщает, что патч ничего не меняет
func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Category == nil && p.Price == nil &&
		p.Stock == nil && p.Unit == nil && p.Status == nil
}

// EntityID возвращает идентификатор товара, к которому относится патч
func (p ProductPatch) EntityID() string {
	return p.ProductID
}

// Apply возвращает товар с применёнными полями патча
// исходное значение не меняется
func (p ProductPatch) Apply(product Product) Product {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Stock != nil {
		product.Stock = *p.Stock
	}
	if p.Unit != nil {
		product.Unit = *p.Unit
	}
	if p.Status != nil {
		product.Status = *p.Status
	}
	return product
}

// ProductFilter описывает выборку товаров для списков и дашборда
type ProductFilter struct {
	FarmerID string        `json:"farmer_id,omitempty"`
	Category string        `json:"category,omitempty"`
	Status   ProductStatus `json:"status,omitempty"`
}
