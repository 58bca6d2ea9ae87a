// Package catalog отвечает за поиск товаров при проверке повторных заказов:
// одновременные запросы склеиваются в один пакет, затем читаются redis и БД
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asquebay/farm-market/internal/lib/logger"
	"github.com/asquebay/farm-market/internal/model"

	"github.com/graph-gophers/dataloader/v7"
)

// ProductReader — источник истины для товаров
type ProductReader interface {
	GetProductsByIDs(ctx context.Context, ids []string) ([]model.Product, error)
}

// ProductCache — быстрый слой перед БД
type ProductCache interface {
	GetMany(ctx context.Context, ids []string) (map[string]model.Product, error)
	SetMany(ctx context.Context, products []model.Product) error
	Delete(ctx context.Context, ids ...string) error
}

// Catalog реализует reorder.ProductLookup
type Catalog struct {
	repo   ProductReader
	cache  ProductCache
	loader *dataloader.Loader[string, *model.Product]
	log    *slog.Logger
}

// Options — параметры пакетирования
type Options struct {
	BatchWait     time.Duration
	BatchCapacity int
}

// New создаёт каталог; cache может быть nil
func New(repo ProductReader, cache ProductCache, log *slog.Logger, opts Options) *Catalog {
	c := &Catalog{
		repo:  repo,
		cache: cache,
		log:   log,
	}

	loaderOpts := []dataloader.Option[string, *model.Product]{
		// карточки меняются, поэтому мемоизацию внутри загрузчика не используем
		dataloader.WithCache[string, *model.Product](&dataloader.NoCache[string, *model.Product]{}),
	}
	if opts.BatchWait > 0 {
		loaderOpts = append(loaderOpts, dataloader.WithWait[string, *model.Product](opts.BatchWait))
	}
	if opts.BatchCapacity > 0 {
		loaderOpts = append(loaderOpts, dataloader.WithBatchCapacity[string, *model.Product](opts.BatchCapacity))
	}

	c.loader = dataloader.NewBatchedLoader(c.getProducts, loaderOpts...)
	return c
}

// GetProducts ищет товары пакетом; i-й результат соответствует i-му id
func (c *Catalog) GetProducts(ctx context.Context, ids []string) ([]*model.Product, []error) {
	return c.loader.LoadMany(ctx, ids)()
}

// Evict удаляет товары из redis после изменения
func (c *Catalog) Evict(ctx context.Context, ids ...string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, ids...)
}

// getProducts — пакетная функция загрузчика
func (c *Catalog) getProducts(ctx context.Context, ids []string) []*dataloader.Result[*model.Product] {
	const op = "catalog.Catalog.getProducts"
	log := c.log.With(slog.String("op", op), slog.Int("batch_size", len(ids)))

	found := make(map[string]model.Product, len(ids))

	// 1. Сначала redis; его ошибки не фатальны
	if c.cache != nil {
		cached, err := c.cache.GetMany(ctx, ids)
		if err != nil {
			log.Warn("product cache read failed, falling back to database", logger.Err(err))
		}
		for id, p := range cached {
			found[id] = p
		}
	}

	// 2. Промахи читаем из БД
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		products, err := c.repo.GetProductsByIDs(ctx, missing)
		if err != nil {
			log.Error("failed to load products", logger.Err(err))
			return handleError(len(ids), fmt.Errorf("%s: %w", op, err))
		}
		for _, p := range products {
			found[p.ID] = p
		}

		if c.cache != nil && len(products) > 0 {
			if err := c.cache.SetMany(ctx, products); err != nil {
				log.Warn("failed to fill product cache", logger.Err(err))
			}
		}
	}

	log.Debug("products loaded", slog.Int("from_db", len(missing)))

	return generateLoaderResults(found, ids)
}

// handleError раздаёт одну ошибку всем ключам пакета
func handleError(itemsLength int, err error) []*dataloader.Result[*model.Product] {
	result := make([]*dataloader.Result[*model.Product], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[*model.Product]{Error: err}
	}
	return result
}

// generateLoaderResults раскладывает найденные товары по порядку ключей
func generateLoaderResults(found map[string]model.Product, ids []string) []*dataloader.Result[*model.Product] {
	results := make([]*dataloader.Result[*model.Product], 0, len(ids))
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			results = append(results, &dataloader.Result[*model.Product]{
				Error: fmt.Errorf("product %s: %w", id, model.ErrProductNotFound),
			})
			continue
		}
		// новая переменная на каждой итерации, чтобы не делить адрес
		product := p
		results = append(results, &dataloader.Result[*model.Product]{Data: &product})
	}
	return results
}
