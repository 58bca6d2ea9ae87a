package cache

import (
	"sync"

	"github.com/asquebay/farm-market/internal/model"
)

// OrderCache — потокобезопасный in-memory кэш снимков заказов
// снимки неизменяемы, поэтому инвалидация не нужна
type OrderCache struct {
	// Ключ — string (OrderID), значение — model.OrderSnapshot
	storage sync.Map
}

// NewOrderCache создаёт новый экземпляр кэша
func NewOrderCache() *OrderCache {
	return &OrderCache{}
}

// Set добавляет заказ в кэш
func (c *OrderCache) Set(order model.OrderSnapshot) {
	c.storage.Store(order.OrderID, order)
}

// Get извлекает заказ из кэша по его id
// возвращает заказ и true, если он найден, иначе — пустую структуру и false
func (c *OrderCache) Get(orderID string) (model.OrderSnapshot, bool) {
	value, ok := c.storage.Load(orderID)
	if !ok {
		return model.OrderSnapshot{}, false
	}

	// выполняем безопасное приведение типа
	order, ok := value.(model.OrderSnapshot)
	return order, ok
}

// LoadAll загружает в кэш срез заказов
// используется для первоначального заполнения кэша при старте сервиса
func (c *OrderCache) LoadAll(orders []model.OrderSnapshot) {
	for _, order := range orders {
		c.Set(order)
	}
}
