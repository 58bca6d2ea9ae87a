package service

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/asquebay/farm-market/internal/model"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]model.OrderSnapshot
	created []model.OrderSnapshot
	gets    int
	err     error
}

func newFakeOrderRepo(orders ...model.OrderSnapshot) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[string]model.OrderSnapshot)}
	for _, o := range orders {
		r.orders[o.OrderID] = o
	}
	return r
}

func (r *fakeOrderRepo) CreateOrder(_ context.Context, order model.OrderSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.orders[order.OrderID] = order
	r.created = append(r.created, order)
	return nil
}

func (r *fakeOrderRepo) GetRecentOrders(_ context.Context, limit int) ([]model.OrderSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]model.OrderSnapshot, 0, len(r.orders))
	for _, o := range r.orders {
		if len(out) == limit {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *fakeOrderRepo) GetOrderByID(_ context.Context, orderID string) (model.OrderSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.err != nil {
		return model.OrderSnapshot{}, r.err
	}
	o, ok := r.orders[orderID]
	if !ok {
		return model.OrderSnapshot{}, model.ErrOrderNotFound
	}
	return o, nil
}

type fakeCatalog struct {
	products map[string]model.Product
}

func (c *fakeCatalog) GetProducts(_ context.Context, ids []string) ([]*model.Product, []error) {
	products := make([]*model.Product, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		p, ok := c.products[id]
		if !ok {
			errs[i] = model.ErrProductNotFound
			continue
		}
		products[i] = &p
	}
	return products, errs
}

type publishedEvent struct {
	key   string
	event any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) PublishEvent(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{key: key, event: event})
	return nil
}

// fakeProductRepo хранит товары в памяти; block задерживает запись до закрытия канала
type fakeProductRepo struct {
	mu        sync.Mutex
	products  map[string]model.Product
	lists     int
	updateErr error
	block     chan struct{}
	started   chan struct{}
}

func newFakeProductRepo(products ...model.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: make(map[string]model.Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *fakeProductRepo) ListProducts(_ context.Context, filter model.ProductFilter) ([]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++

	out := []model.Product{}
	for _, id := range slices.Sorted(maps.Keys(r.products)) {
		p := r.products[id]
		if filter.FarmerID != "" && p.FarmerID != filter.FarmerID {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeProductRepo) wait() {
	if r.started != nil {
		close(r.started)
	}
	if r.block != nil {
		<-r.block
	}
}

func (r *fakeProductRepo) UpdateProduct(_ context.Context, patch model.ProductPatch) (model.Product, error) {
	r.wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return model.Product{}, r.updateErr
	}
	p, ok := r.products[patch.ProductID]
	if !ok {
		return model.Product{}, model.ErrProductNotFound
	}
	p = patch.Apply(p)
	p.UpdatedAt = p.UpdatedAt.AddDate(0, 0, 1)
	r.products[p.ID] = p
	return p, nil
}

func (r *fakeProductRepo) BulkUpdate(_ context.Context, farmerID string, patches []model.ProductPatch) ([]model.Product, error) {
	r.wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	out := make([]model.Product, 0, len(patches))
	for _, patch := range patches {
		p, ok := r.products[patch.ProductID]
		if !ok || p.FarmerID != farmerID {
			return nil, model.ErrProductNotFound
		}
		out = append(out, patch.Apply(p))
	}
	for _, p := range out {
		r.products[p.ID] = p
	}
	return out, nil
}

func (r *fakeProductRepo) listCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

type fakeEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (e *fakeEvictor) Evict(_ context.Context, ids ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evicted = append(e.evicted, ids...)
	return nil
}

func (e *fakeEvictor) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.evicted...)
}
