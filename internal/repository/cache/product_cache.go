package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asquebay/farm-market/internal/config"
	"github.com/asquebay/farm-market/internal/model"

	"github.com/redis/go-redis/v9"
)

const productKeyPrefix = "product:"

// ProductCache — redis-кэш карточек товаров для проверки повторных заказов
// с nil-клиентом все методы ничего не делают
type ProductCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient подключается к redis; пустой адрес возвращает nil без ошибки
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	const op = "repository.cache.NewRedisClient"

	if cfg.Address == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: failed to ping redis: %w", op, err)
	}
	return rdb, nil
}

// NewProductCache создаёт кэш товаров поверх клиента redis
func NewProductCache(rdb *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{rdb: rdb, ttl: ttl}
}

// Enabled сообщает, подключён ли redis
func (c *ProductCache) Enabled() bool {
	return c != nil && c.rdb != nil
}

// GetMany возвращает найденные в кэше товары по id; промахи в map отсутствуют
func (c *ProductCache) GetMany(ctx context.Context, ids []string) (map[string]model.Product, error) {
	const op = "repository.cache.ProductCache.GetMany"

	found := make(map[string]model.Product, len(ids))
	if !c.Enabled() || len(ids) == 0 {
		return found, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKeyPrefix + id
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return found, fmt.Errorf("%s: %w", op, err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // промах возвращается как nil
		}
		var p model.Product
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			// битую запись просто считаем промахом
			continue
		}
		found[ids[i]] = p
	}

	return found, nil
}

// SetMany кладёт товары в кэш одним pipeline
func (c *ProductCache) SetMany(ctx context.Context, products []model.Product) error {
	const op = "repository.cache.ProductCache.SetMany"

	if !c.Enabled() || len(products) == 0 {
		return nil
	}

	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range products {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.Set(ctx, productKeyPrefix+p.ID, data, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete удаляет товары из кэша
func (c *ProductCache) Delete(ctx context.Context, ids ...string) error {
	const op = "repository.cache.ProductCache.Delete"

	if !c.Enabled() || len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKeyPrefix + id
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
