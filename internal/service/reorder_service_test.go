package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/pricing"
	"github.com/asquebay/farm-market/internal/repository/cache"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sourceOrder() model.OrderSnapshot {
	return model.OrderSnapshot{
		OrderID:     "source",
		CustomerID:  "customer-1",
		OrderDate:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		DeliveryFee: d("30"),
		Total:       d("360"),
		Items: []model.OrderLineItem{
			{ProductID: "tomato", ProductName: "Tomatoes", Quantity: 2, PriceAtOrderTime: d("100")},
			{ProductID: "milk", ProductName: "Milk", Quantity: 4, PriceAtOrderTime: d("25")},
			{ProductID: "honey", ProductName: "Honey", Quantity: 1, PriceAtOrderTime: d("30")},
		},
	}
}

func reorderFixture(policy pricing.DeliveryFeePolicy) (*ReorderService, *fakeOrderRepo, *fakePublisher) {
	repo := newFakeOrderRepo(sourceOrder())
	orders := NewOrderService(repo, cache.NewOrderCache(), discard())
	catalog := &fakeCatalog{products: map[string]model.Product{
		"tomato": {ID: "tomato", Name: "Tomatoes", Price: d("120"), Stock: 10, Status: model.ProductActive},
		"milk":   {ID: "milk", Name: "Milk", Price: d("25"), Stock: 3, Status: model.ProductActive},
	}}
	publisher := &fakePublisher{}

	svc := NewReorderService(orders, catalog, policy, publisher, discard())
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, publisher
}

func TestReorderService_Validate(t *testing.T) {
	svc, _, _ := reorderFixture(nil)

	report, err := svc.Validate(context.Background(), "source")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.AvailableCount)
	assert.Equal(t, 1, report.Summary.StockIssuesCount)
	assert.Equal(t, 1, report.Summary.UnavailableCount)
	assert.Equal(t, 1, report.Summary.PriceChangesCount)

	_, err = svc.Validate(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestReorderService_Reorder(t *testing.T) {
	svc, repo, publisher := reorderFixture(nil)

	result, err := svc.Reorder(context.Background(), "source", ReorderOptions{})
	require.NoError(t, err)

	o := result.Order
	assert.NotEmpty(t, o.OrderID)
	assert.NotEqual(t, "source", o.OrderID)
	assert.Equal(t, "customer-1", o.CustomerID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "tomato", o.Items[0].ProductID)
	assert.True(t, o.Items[0].PriceAtOrderTime.Equal(d("120")), "priced at current price")
	assert.True(t, o.DeliveryFee.Equal(d("30")), "original fee policy")
	assert.True(t, o.Total.Equal(d("270")))
	assert.True(t, o.OrderDate.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))

	require.Len(t, repo.created, 1)
	assert.Equal(t, o.OrderID, repo.created[0].OrderID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, o.OrderID, publisher.events[0].key)
	event, ok := publisher.events[0].event.(model.OrderReordered)
	require.True(t, ok)
	assert.Equal(t, "source", event.SourceOrderID)
	assert.Equal(t, 1, event.ItemCount)
	assert.True(t, event.Total.Equal(d("270")))
}

func TestReorderService_Reorder_AcceptPartial(t *testing.T) {
	svc, _, _ := reorderFixture(pricing.ThresholdWaiver{Amount: d("50"), Threshold: d("1000")})

	result, err := svc.Reorder(context.Background(), "source", ReorderOptions{CustomerID: "customer-2", AcceptPartial: true})
	require.NoError(t, err)

	o := result.Order
	assert.Equal(t, "customer-2", o.CustomerID)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "milk", o.Items[1].ProductID)
	assert.Equal(t, 3, o.Items[1].Quantity, "available stock, not requested quantity")
	// 2*120 + 3*25 = 315, ниже порога
	assert.True(t, o.DeliveryFee.Equal(d("50")))
	assert.True(t, o.Total.Equal(d("365")))
}

func TestReorderService_Reorder_NothingToReorder(t *testing.T) {
	svc, repo, publisher := reorderFixture(nil)
	svc.catalog = &fakeCatalog{}

	result, err := svc.Reorder(context.Background(), "source", ReorderOptions{AcceptPartial: true})

	assert.ErrorIs(t, err, ErrNothingToReorder)
	assert.Equal(t, 3, result.Report.Summary.UnavailableCount)
	assert.Empty(t, repo.created)
	assert.Empty(t, publisher.events)
}

func TestReorderService_Reorder_StockIssuesOnly(t *testing.T) {
	svc, _, _ := reorderFixture(nil)
	svc.catalog = &fakeCatalog{products: map[string]model.Product{
		"milk": {ID: "milk", Price: d("25"), Stock: 1, Status: model.ProductActive},
	}}

	_, err := svc.Reorder(context.Background(), "source", ReorderOptions{})
	assert.ErrorIs(t, err, ErrNothingToReorder)

	result, err := svc.Reorder(context.Background(), "source", ReorderOptions{AcceptPartial: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Order.Items[0].Quantity)
}

func TestReorderService_Reorder_PublishFailureKeepsOrder(t *testing.T) {
	svc, repo, publisher := reorderFixture(nil)
	publisher.err = errors.New("broker unavailable")

	_, err := svc.Reorder(context.Background(), "source", ReorderOptions{})

	require.NoError(t, err)
	assert.Len(t, repo.created, 1)
}

func TestReorderService_Reorder_CreateFails(t *testing.T) {
	svc, repo, publisher := reorderFixture(nil)
	// заказ-источник уже в кэше сервиса заказов, так что ошибка БД затронет только запись
	_, err := svc.Validate(context.Background(), "source")
	require.NoError(t, err)
	repo.err = errors.New("db down")

	_, err = svc.Reorder(context.Background(), "source", ReorderOptions{})

	assert.ErrorIs(t, err, repo.err)
	assert.Empty(t, publisher.events)
}

func TestReorderService_Reorder_SharesStockBetweenLines(t *testing.T) {
	source := model.OrderSnapshot{
		OrderID:    "split",
		CustomerID: "customer-1",
		OrderDate:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Items: []model.OrderLineItem{
			{ProductID: "eggs", ProductName: "Eggs", Quantity: 4, PriceAtOrderTime: d("10")},
			{ProductID: "eggs", ProductName: "Eggs", Quantity: 4, PriceAtOrderTime: d("10")},
			{ProductID: "cheese", ProductName: "Cheese", Quantity: 3, PriceAtOrderTime: d("50"), Image: "old.jpg"},
		},
	}
	catalog := &fakeCatalog{products: map[string]model.Product{
		"eggs":   {ID: "eggs", Name: "Eggs", Price: d("10"), Stock: 6, Status: model.ProductActive},
		"cheese": {ID: "cheese", Name: "Cheese", Price: d("50"), Stock: 1, Status: model.ProductActive, Image: "cheese.jpg"},
	}}

	tests := []struct {
		name          string
		acceptPartial bool
		want          map[string]int
	}{
		{name: "whole lines only", acceptPartial: false, want: map[string]int{"eggs": 4}},
		{name: "partial", acceptPartial: true, want: map[string]int{"eggs": 6, "cheese": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := NewOrderService(newFakeOrderRepo(source), cache.NewOrderCache(), discard())
			svc := NewReorderService(orders, catalog, nil, nil, discard())

			result, err := svc.Reorder(context.Background(), "split", ReorderOptions{AcceptPartial: tt.acceptPartial})
			require.NoError(t, err)

			got := make(map[string]int)
			for _, it := range result.Order.Items {
				got[it.ProductID] += it.Quantity
				if it.ProductID == "cheese" {
					assert.Equal(t, "cheese.jpg", it.Image)
				}
			}
			// суммарно не больше остатка
			assert.Equal(t, tt.want, got)
		})
	}
}
