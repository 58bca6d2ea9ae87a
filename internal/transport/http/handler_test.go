package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/reconciler"
	"github.com/asquebay/farm-market/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	orders map[string]model.OrderSnapshot
}

func (s *stubOrders) GetOrderByID(_ context.Context, orderID string) (model.OrderSnapshot, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return model.OrderSnapshot{}, fmt.Errorf("service: %w", model.ErrOrderNotFound)
	}
	return o, nil
}

type stubReorders struct {
	report    model.ValidationReport
	result    service.ReorderResult
	err       error
	gotOpts   service.ReorderOptions
	gotSource string
}

func (s *stubReorders) Validate(_ context.Context, orderID string) (model.ValidationReport, error) {
	if s.err != nil {
		return model.ValidationReport{}, s.err
	}
	r := s.report
	r.OrderID = orderID
	return r, nil
}

func (s *stubReorders) Reorder(_ context.Context, orderID string, opts service.ReorderOptions) (service.ReorderResult, error) {
	s.gotSource = orderID
	s.gotOpts = opts
	return s.result, s.err
}

type stubProducts struct {
	products   []model.Product
	err        error
	gotFilter  model.ProductFilter
	gotPatch   model.ProductPatch
	gotFarmer  string
	gotPatches []model.ProductPatch
}

func (s *stubProducts) ListProducts(_ context.Context, filter model.ProductFilter) ([]model.Product, error) {
	s.gotFilter = filter
	return s.products, s.err
}

func (s *stubProducts) Dashboard(_ context.Context, farmerID string) ([]model.Product, error) {
	s.gotFarmer = farmerID
	return s.products, s.err
}

func (s *stubProducts) UpdateProduct(_ context.Context, patch model.ProductPatch) (model.Product, error) {
	s.gotPatch = patch
	if s.err != nil {
		return model.Product{}, s.err
	}
	return patch.Apply(s.products[0]), nil
}

func (s *stubProducts) BulkUpdate(_ context.Context, farmerID string, patches []model.ProductPatch) ([]model.Product, error) {
	s.gotFarmer = farmerID
	s.gotPatches = patches
	return s.products, s.err
}

type fixture struct {
	handler  *Handler
	orders   *stubOrders
	reorders *stubReorders
	products *stubProducts
}

func newFixture() *fixture {
	f := &fixture{
		orders: &stubOrders{orders: map[string]model.OrderSnapshot{
			"o-1": {OrderID: "o-1", CustomerID: "c-1", Total: decimal.NewFromInt(100)},
		}},
		reorders: &stubReorders{},
		products: &stubProducts{products: []model.Product{
			{ID: "p-1", FarmerID: "f-1", Name: "Tomatoes", Price: decimal.NewFromInt(100), Stock: 5, Status: model.ProductActive},
		}},
	}
	f.handler = NewHandler(f.orders, f.reorders, f.products, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetOrder(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/orders/o-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var order model.OrderSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "c-1", order.CustomerID)

	rec = f.do(http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Kind)
}

func TestValidateReorder(t *testing.T) {
	f := newFixture()
	f.reorders.report = model.ValidationReport{
		AvailableItems:   []model.AvailableItem{},
		UnavailableItems: []model.UnavailableItem{{ProductID: "p-9", Reason: model.ReasonOutOfStock}},
		PriceChanges:     []model.PriceChange{},
		StockIssues:      []model.StockIssue{},
	}

	rec := f.do(http.MethodGet, "/orders/o-1/reorder/validation", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "o-1", report["order_id"])
	assert.Equal(t, []any{}, report["available_items"], "empty lists are rendered as []")
	assert.Len(t, report["unavailable_items"], 1)
}

func TestReorder(t *testing.T) {
	f := newFixture()
	f.reorders.result = service.ReorderResult{Order: model.OrderSnapshot{OrderID: "new"}}

	rec := f.do(http.MethodPost, "/orders/o-1/reorder", `{"customer_id":"c-2","accept_partial":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "o-1", f.reorders.gotSource)
	assert.Equal(t, service.ReorderOptions{CustomerID: "c-2", AcceptPartial: true}, f.reorders.gotOpts)

	t.Run("empty body", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/orders/o-1/reorder", "")
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, service.ReorderOptions{}, f.reorders.gotOpts)
	})

	t.Run("broken body", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/orders/o-1/reorder", `{"customer_id":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid", decodeError(t, rec).Kind)
	})

	t.Run("nothing to reorder", func(t *testing.T) {
		f.reorders.err = fmt.Errorf("service: %w", service.ErrNothingToReorder)
		rec := f.do(http.MethodPost, "/orders/o-1/reorder", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestListProducts(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/products?farmer_id=f-1&category=dairy&status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ProductFilter{FarmerID: "f-1", Category: "dairy", Status: model.ProductActive}, f.products.gotFilter)

	rec = f.do(http.MethodGet, "/products?status=sold", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboard(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/farmers/f-1/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "f-1", f.products.gotFarmer)

	var products []model.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	assert.Len(t, products, 1)
}

func TestUpdateProduct(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPatch, "/products/p-1", `{"product_id":"ignored","stock":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p-1", f.products.gotPatch.ProductID, "id comes from the path")
	require.NotNil(t, f.products.gotPatch.Stock)
	assert.Equal(t, 2, *f.products.gotPatch.Stock)

	var product model.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	assert.Equal(t, 2, product.Stock)
}

func TestMutationErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{
			name:   "not found",
			err:    &reconciler.MutationError{Kind: reconciler.KindNotFound, Err: model.ErrProductNotFound},
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:   "invalid",
			err:    &reconciler.MutationError{Kind: reconciler.KindInvalid, Err: errors.New("bad stock")},
			status: http.StatusBadRequest,
			kind:   "invalid",
		},
		{
			name:   "unavailable",
			err:    &reconciler.MutationError{Kind: reconciler.KindUnavailable, Err: context.DeadlineExceeded},
			status: http.StatusServiceUnavailable,
			kind:   "unavailable",
		},
		{
			name:   "bulk in progress",
			err:    fmt.Errorf("service: %w", service.ErrBulkUpdateInProgress),
			status: http.StatusConflict,
			kind:   "conflict",
		},
		{
			name:   "internal",
			err:    errors.New("pq: connection refused"),
			status: http.StatusInternalServerError,
			kind:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.products.err = tt.err

			rec := f.do(http.MethodPost, "/farmers/f-1/products/bulk-update", `{"patches":[{"product_id":"p-1","stock":1}]}`)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.kind, body.Kind)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, body.Error, "pq:", "internal details are hidden")
			}
		})
	}
}

func TestBulkUpdate(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/farmers/f-1/products/bulk-update", `{"patches":[{"product_id":"p-1","stock":1},{"product_id":"p-2","price":"12.5"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "f-1", f.products.gotFarmer)
	require.Len(t, f.products.gotPatches, 2)
	require.NotNil(t, f.products.gotPatches[1].Price)
	assert.True(t, f.products.gotPatches[1].Price.Equal(decimal.RequireFromString("12.5")))
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodDelete, "/orders/o-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
