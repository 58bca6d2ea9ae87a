package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"
	"github.com/asquebay/farm-market/internal/reconciler"
	"github.com/asquebay/farm-market/internal/repository/cache"

	"github.com/go-playground/validator/v10"
)

// ErrBulkUpdateInProgress — для фермера уже идёт массовое обновление
var ErrBulkUpdateInProgress = errors.New("bulk update already in progress")

var errUnknownKey = errors.New("unknown query key")

const (
	keyProducts  = "products"
	keyDashboard = "dashboard"

	// DefaultLockTTL — время жизни блокировки массового обновления
	DefaultLockTTL = 30 * time.Second
)

// ProductsKey — ключ кэша для списка товаров по фильтру
func ProductsKey(filter model.ProductFilter) reconciler.Key {
	return reconciler.Key{keyProducts, filter.FarmerID, filter.Category, string(filter.Status)}
}

// DashboardKey — ключ кэша для дашборда фермера
func DashboardKey(farmerID string) reconciler.Key {
	return reconciler.Key{keyDashboard, farmerID}
}

// filterFromKey восстанавливает фильтр выборки по ключу кэша
func filterFromKey(key reconciler.Key) (model.ProductFilter, error) {
	switch {
	case len(key) == 4 && key[0] == keyProducts:
		return model.ProductFilter{FarmerID: key[1], Category: key[2], Status: model.ProductStatus(key[3])}, nil
	case len(key) == 2 && key[0] == keyDashboard:
		return model.ProductFilter{FarmerID: key[1]}, nil
	}
	return model.ProductFilter{}, fmt.Errorf("%s: %w", key, errUnknownKey)
}

// ProductFetcher загружает значение ключа кэша из хранилища
func ProductFetcher(repo ProductRepository) reconciler.Fetcher[model.Product] {
	return func(ctx context.Context, key reconciler.Key) ([]model.Product, error) {
		filter, err := filterFromKey(key)
		if err != nil {
			return nil, err
		}
		return repo.ListProducts(ctx, filter)
	}
}

// ClassifyProductError переводит ошибку хранилища в вид ошибки мутации
func ClassifyProductError(err error) reconciler.ErrorKind {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, model.ErrProductNotFound):
		return reconciler.KindNotFound
	case errors.As(err, &validationErrs):
		return reconciler.KindInvalid
	case errors.Is(err, cache.ErrLockNotObtained), errors.Is(err, ErrBulkUpdateInProgress):
		return reconciler.KindConflict
	case errors.Is(err, context.DeadlineExceeded):
		return reconciler.KindUnavailable
	}
	return reconciler.KindInternal
}

// listingMatcher выбирает все закэшированные выборки, в которых могут быть товары фермера
// пустой farmerID — все выборки
func listingMatcher(farmerID string) reconciler.Matcher {
	if farmerID == "" {
		return reconciler.AnyOf(reconciler.Prefix(keyProducts), reconciler.Prefix(keyDashboard))
	}
	return reconciler.AnyOf(
		reconciler.Exact(DashboardKey(farmerID)),
		reconciler.Prefix(keyProducts, farmerID),
		reconciler.Prefix(keyProducts, ""),
	)
}

// ProductService — списки товаров и их изменение через оптимистичный кэш
type ProductService struct {
	repo    ProductRepository
	rec     *reconciler.Reconciler[model.Product]
	evictor ProductEvictor
	locker  Locker
	lockTTL time.Duration
	log     *slog.Logger
}

// NewProductService создаёт сервис поверх уже созданного reconciler
// evictor может быть nil
func NewProductService(
	repo ProductRepository,
	rec *reconciler.Reconciler[model.Product],
	evictor ProductEvictor,
	locker Locker,
	lockTTL time.Duration,
	log *slog.Logger,
) *ProductService {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &ProductService{
		repo:    repo,
		rec:     rec,
		evictor: evictor,
		locker:  locker,
		lockTTL: lockTTL,
		log:     log,
	}
}

// ListProducts возвращает выборку товаров из кэша, при промахе или устаревании читает хранилище
func (s *ProductService) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	const op = "service.ProductService.ListProducts"

	products, err := s.read(ctx, ProductsKey(filter))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return products, nil
}

// Dashboard возвращает все товары фермера
func (s *ProductService) Dashboard(ctx context.Context, farmerID string) ([]model.Product, error) {
	const op = "service.ProductService.Dashboard"

	products, err := s.read(ctx, DashboardKey(farmerID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return products, nil
}

func (s *ProductService) read(ctx context.Context, key reconciler.Key) ([]model.Product, error) {
	c := s.rec.Cache()

	cached, found := c.Get(key)
	if found && !c.IsStale(key) {
		return cached, nil
	}

	if err := c.Refetch(ctx, key); err != nil {
		// устаревшие данные лучше, чем ошибка
		if found {
			s.log.Warn("serving stale listing", slog.String("key", key.String()), logger.Err(err))
			return cached, nil
		}
		return nil, err
	}

	products, _ := c.Get(key)
	if products == nil {
		products = []model.Product{}
	}
	return products, nil
}

// UpdateProduct меняет один товар: кэш обновляется сразу, затем запись уходит в хранилище
func (s *ProductService) UpdateProduct(ctx context.Context, patch model.ProductPatch) (model.Product, error) {
	const op = "service.ProductService.UpdateProduct"
	log := s.log.With(slog.String("op", op), slog.String("product_id", patch.ProductID))

	if err := patch.Validate(); err != nil {
		return model.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	canonical, err := s.rec.Apply(ctx, reconciler.Mutation[model.Product]{
		Match:   listingMatcher(""),
		Patches: []reconciler.Patch[model.Product]{patch},
		Send: func(ctx context.Context) ([]model.Product, error) {
			p, err := s.repo.UpdateProduct(ctx, patch)
			if err != nil {
				return nil, err
			}
			return []model.Product{p}, nil
		},
	})
	if err != nil {
		return model.Product{}, fmt.Errorf("%s: %w", op, err)
	}

	s.evict(ctx, log, patch.ProductID)
	log.Info("product updated")

	return canonical[0], nil
}

// BulkUpdate меняет несколько товаров фермера одной транзакцией
// одновременно для одного фермера выполняется не больше одного массового обновления
func (s *ProductService) BulkUpdate(ctx context.Context, farmerID string, patches []model.ProductPatch) ([]model.Product, error) {
	const op = "service.ProductService.BulkUpdate"
	log := s.log.With(slog.String("op", op), slog.String("farmer_id", farmerID), slog.Int("patches", len(patches)))

	if len(patches) == 0 {
		return []model.Product{}, nil
	}
	for i := range patches {
		if err := patches[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: patch %d: %w", op, i, err)
		}
	}

	release, err := s.locker.Obtain(ctx, "products:bulk:"+farmerID, s.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotObtained) {
			log.Warn("bulk update rejected, another one is running")
			return nil, fmt.Errorf("%s: %w", op, ErrBulkUpdateInProgress)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release bulk update lock", logger.Err(err))
		}
	}()

	ids := make([]string, 0, len(patches))
	recPatches := make([]reconciler.Patch[model.Product], 0, len(patches))
	for _, p := range patches {
		ids = append(ids, p.ProductID)
		recPatches = append(recPatches, p)
	}

	canonical, err := s.rec.Apply(ctx, reconciler.Mutation[model.Product]{
		Match:   listingMatcher(farmerID),
		Patches: recPatches,
		Send: func(ctx context.Context) ([]model.Product, error) {
			return s.repo.BulkUpdate(ctx, farmerID, patches)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.evict(ctx, log, ids...)
	log.Info("bulk update applied")

	return canonical, nil
}

// HandleProductChanged реагирует на изменение товара в обход сервиса:
// карточка убирается из redis, выборки сразу перезапрашиваются
func (s *ProductService) HandleProductChanged(ctx context.Context, event model.ProductChanged) error {
	const op = "service.ProductService.HandleProductChanged"
	log := s.log.With(slog.String("op", op), slog.String("product_id", event.ProductID))

	s.evict(ctx, log, event.ProductID)

	if err := s.rec.Cache().Invalidate(ctx, listingMatcher(event.FarmerID), true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("listings refreshed after external change")
	return nil
}

// evict не прерывает операцию: карточка в redis всё равно истечёт по ttl
func (s *ProductService) evict(ctx context.Context, log *slog.Logger, ids ...string) {
	if s.evictor == nil {
		return
	}
	if err := s.evictor.Evict(ctx, ids...); err != nil {
		log.Warn("failed to evict products from cache", logger.Err(err))
	}
}
