package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/reconciler"
	"github.com/asquebay/farm-market/internal/repository/cache"
	"github.com/asquebay/farm-market/internal/service"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes ограничивает размер тела запроса
const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// OrderGetter определяет интерфейс для сервиса, который может получать заказы
// Это позволяет хэндлеру не зависеть от конкретной реализации сервиса
type OrderGetter interface {
	GetOrderByID(ctx context.Context, orderID string) (model.OrderSnapshot, error)
}

// Reorderer — проверка и повтор заказа
type Reorderer interface {
	Validate(ctx context.Context, orderID string) (model.ValidationReport, error)
	Reorder(ctx context.Context, orderID string, opts service.ReorderOptions) (service.ReorderResult, error)
}

// ProductManager — списки товаров и их изменение
type ProductManager interface {
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	Dashboard(ctx context.Context, farmerID string) ([]model.Product, error)
	UpdateProduct(ctx context.Context, patch model.ProductPatch) (model.Product, error)
	BulkUpdate(ctx context.Context, farmerID string, patches []model.ProductPatch) ([]model.Product, error)
}

// Handler обрабатывает HTTP-запросы
type Handler struct {
	orders   OrderGetter
	reorders Reorderer
	products ProductManager
	log      *slog.Logger
	mux      *http.ServeMux
}

// NewHandler создает новый экземпляр Handler
func NewHandler(orders OrderGetter, reorders Reorderer, products ProductManager, log *slog.Logger) *Handler {
	h := &Handler{
		orders:   orders,
		reorders: reorders,
		products: products,
		log:      log,
		mux:      http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP делает Handler совместимым с http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes регистрирует все эндпоинты
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /orders/{order_id}", h.getOrder)
	h.mux.HandleFunc("GET /orders/{order_id}/reorder/validation", h.validateReorder)
	h.mux.HandleFunc("POST /orders/{order_id}/reorder", h.reorder)

	h.mux.HandleFunc("GET /products", h.listProducts)
	h.mux.HandleFunc("PATCH /products/{product_id}", h.updateProduct)
	h.mux.HandleFunc("GET /farmers/{farmer_id}/dashboard", h.dashboard)
	h.mux.HandleFunc("POST /farmers/{farmer_id}/products/bulk-update", h.bulkUpdate)

	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrderByID(r.Context(), r.PathValue("order_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}

func (h *Handler) validateReorder(w http.ResponseWriter, r *http.Request) {
	report, err := h.reorders.Validate(r.Context(), r.PathValue("order_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	var opts service.ReorderOptions
	// тело необязательно: без него заказ повторяется на того же покупателя
	if err := decodeJSON(r, &opts); err != nil && !errors.Is(err, io.EOF) {
		h.respondServiceError(w, r, err)
		return
	}

	result, err := h.reorders.Reorder(r.Context(), r.PathValue("order_id"), opts)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ProductFilter{
		FarmerID: q.Get("farmer_id"),
		Category: q.Get("category"),
		Status:   model.ProductStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.respondError(w, http.StatusBadRequest, reconciler.KindInvalid, "unknown product status")
		return
	}

	products, err := h.products.ListProducts(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.Dashboard(r.Context(), r.PathValue("farmer_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var patch model.ProductPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	// id берём из пути, а не из тела
	patch.ProductID = r.PathValue("product_id")

	product, err := h.products.UpdateProduct(r.Context(), patch)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, product)
}

type bulkUpdateRequest struct {
	Patches []model.ProductPatch `json:"patches"`
}

func (h *Handler) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	products, err := h.products.BulkUpdate(r.Context(), r.PathValue("farmer_id"), req.Patches)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// classify переводит ошибку сервисного слоя в HTTP-статус и машиночитаемый вид
func classify(err error) (int, reconciler.ErrorKind) {
	var mutationErr *reconciler.MutationError
	if errors.As(err, &mutationErr) {
		return statusForKind(mutationErr.Kind), mutationErr.Kind
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, model.ErrOrderNotFound), errors.Is(err, model.ErrProductNotFound):
		return http.StatusNotFound, reconciler.KindNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, io.EOF), errors.As(err, &validationErrs):
		return http.StatusBadRequest, reconciler.KindInvalid
	case errors.Is(err, service.ErrBulkUpdateInProgress), errors.Is(err, cache.ErrLockNotObtained):
		return http.StatusConflict, reconciler.KindConflict
	case errors.Is(err, service.ErrNothingToReorder):
		return http.StatusUnprocessableEntity, reconciler.KindConflict
	}
	return http.StatusInternalServerError, reconciler.KindInternal
}

func statusForKind(kind reconciler.ErrorKind) int {
	switch kind {
	case reconciler.KindNotFound:
		return http.StatusNotFound
	case reconciler.KindInvalid:
		return http.StatusBadRequest
	case reconciler.KindConflict:
		return http.StatusConflict
	case reconciler.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error("internal server error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Err(err),
		)
		// подробности внутренних ошибок наружу не отдаём
		message = http.StatusText(status)
	}

	h.respondError(w, status, kind, message)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal JSON response", logger.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "internal server error", "kind": "internal"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(response)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, kind reconciler.ErrorKind, message string) {
	h.respondJSON(w, status, map[string]string{"error": message, "kind": string(kind)})
}
