package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/repository/cache"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(id string) model.OrderSnapshot {
	return model.OrderSnapshot{
		OrderID:     id,
		CustomerID:  "customer-1",
		OrderDate:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		DeliveryFee: decimal.NewFromInt(30),
		Total:       decimal.NewFromInt(330),
		Items: []model.OrderLineItem{
			{ProductID: "p-1", ProductName: "Tomatoes", Quantity: 3, PriceAtOrderTime: decimal.NewFromInt(100)},
		},
	}
}

func TestOrderService_CreateOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	orderCache := cache.NewOrderCache()
	svc := NewOrderService(repo, orderCache, discard())

	require.NoError(t, svc.CreateOrder(context.Background(), snapshot("o-1")))

	assert.Len(t, repo.created, 1)
	_, cached := orderCache.Get("o-1")
	assert.True(t, cached)
}

func TestOrderService_CreateOrder_RepositoryError(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.err = errors.New("duplicate key")
	orderCache := cache.NewOrderCache()
	svc := NewOrderService(repo, orderCache, discard())

	err := svc.CreateOrder(context.Background(), snapshot("o-1"))

	assert.ErrorIs(t, err, repo.err)
	_, cached := orderCache.Get("o-1")
	assert.False(t, cached, "failed order must not be cached")
}

func TestOrderService_CreateOrder_Invalid(t *testing.T) {
	repo := newFakeOrderRepo()
	svc := NewOrderService(repo, cache.NewOrderCache(), discard())

	o := snapshot("o-1")
	o.Items = nil

	assert.Error(t, svc.CreateOrder(context.Background(), o))
	assert.Empty(t, repo.created)
}

func TestOrderService_GetOrderByID(t *testing.T) {
	repo := newFakeOrderRepo(snapshot("o-1"))
	orderCache := cache.NewOrderCache()
	svc := NewOrderService(repo, orderCache, discard())
	ctx := context.Background()

	got, err := svc.GetOrderByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", got.OrderID)
	assert.Equal(t, 1, repo.gets)

	// второй раз из кэша
	_, err = svc.GetOrderByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.gets)

	_, err = svc.GetOrderByID(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestOrderService_RestoreCache(t *testing.T) {
	repo := newFakeOrderRepo(snapshot("o-1"), snapshot("o-2"))
	orderCache := cache.NewOrderCache()
	svc := NewOrderService(repo, orderCache, discard())

	require.NoError(t, svc.RestoreCache(context.Background()))

	for _, id := range []string{"o-1", "o-2"} {
		_, ok := orderCache.Get(id)
		assert.True(t, ok, id)
	}

	repo.err = errors.New("db down")
	assert.ErrorIs(t, svc.RestoreCache(context.Background()), repo.err)
}
