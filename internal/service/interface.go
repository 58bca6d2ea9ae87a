package service

import (
	"context"
	"time"

	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/repository/cache"
)

// OrderRepository определяет контракт для хранилища заказов в БД
type OrderRepository interface {
	CreateOrder(ctx context.Context, order model.OrderSnapshot) error
	GetRecentOrders(ctx context.Context, limit int) ([]model.OrderSnapshot, error)
	GetOrderByID(ctx context.Context, orderID string) (model.OrderSnapshot, error)
}

// OrderCache определяет контракт для in-memory кэша заказов
type OrderCache interface {
	Set(order model.OrderSnapshot)
	Get(orderID string) (model.OrderSnapshot, bool)
	LoadAll(orders []model.OrderSnapshot)
}

// ProductRepository определяет контракт каталога товаров в БД
type ProductRepository interface {
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	UpdateProduct(ctx context.Context, patch model.ProductPatch) (model.Product, error)
	BulkUpdate(ctx context.Context, farmerID string, patches []model.ProductPatch) ([]model.Product, error)
}

// ProductEvictor убирает изменённые товары из кэша карточек
type ProductEvictor interface {
	Evict(ctx context.Context, ids ...string) error
}

// Locker берёт эксклюзивную блокировку без ожидания
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (cache.ReleaseFunc, error)
}

// Publisher отправляет события в брокер
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event any) error
}
