package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/asquebay/farm-market/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var productColumns = []string{
	"id", "farmer_id", "name", "category", "price", "stock", "unit", "status", "image", "updated_at",
}

// ProductRepository — каталог товаров в БД
type ProductRepository struct {
	db *pgxpool.Pool
	sq squirrel.StatementBuilderType
}

// NewProductRepository создает новый экземпляр репозитория каталога
func NewProductRepository(db *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{
		db: db,
		sq: builder(),
	}
}

func scanProduct(row pgx.Row) (model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.FarmerID, &p.Name, &p.Category, &p.Price, &p.Stock, &p.Unit, &p.Status, &p.Image, &p.UpdatedAt)
	return p, err
}

// GetProductsByIDs возвращает найденные товары; отсутствующие id просто пропускаются
func (r *ProductRepository) GetProductsByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	const op = "repository.postgres.product.GetProductsByIDs"

	if len(ids) == 0 {
		return []model.Product{}, nil
	}

	sql, args, err := r.sq.Select(productColumns...).
		From("products").
		Where(squirrel.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	return r.queryProducts(ctx, op, sql, args)
}

// ListProducts возвращает товары по фильтру, отсортированные по имени
func (r *ProductRepository) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	const op = "repository.postgres.product.ListProducts"

	where := squirrel.Eq{}
	if filter.FarmerID != "" {
		where["farmer_id"] = filter.FarmerID
	}
	if filter.Category != "" {
		where["category"] = filter.Category
	}
	if filter.Status != "" {
		where["status"] = filter.Status
	}

	query := r.sq.Select(productColumns...).From("products").OrderBy("name", "id")
	if len(where) > 0 {
		query = query.Where(where)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	return r.queryProducts(ctx, op, sql, args)
}

func (r *ProductRepository) queryProducts(ctx context.Context, op, sql string, args []any) ([]model.Product, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query products: %w", op, err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan product: %w", op, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to read products: %w", op, err)
	}

	return products, nil
}

// UpdateProduct применяет частичное обновление и возвращает каноническую запись
func (r *ProductRepository) UpdateProduct(ctx context.Context, patch model.ProductPatch) (model.Product, error) {
	const op = "repository.postgres.product.UpdateProduct"

	product, err := r.updateOne(ctx, r.db, patch, "")
	if err != nil {
		return model.Product{}, fmt.Errorf("%s: %w", op, err)
	}
	return product, nil
}

// BulkUpdate применяет набор патчей к товарам фермера в одной транзакции
// если хотя бы один товар не найден или чужой, не применяется ничего
func (r *ProductRepository) BulkUpdate(ctx context.Context, farmerID string, patches []model.ProductPatch) ([]model.Product, error) {
	const op = "repository.postgres.product.BulkUpdate"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer tx.Rollback(ctx)

	products := make([]model.Product, 0, len(patches))
	for _, patch := range patches {
		product, err := r.updateOne(ctx, tx, patch, farmerID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		products = append(products, product)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: failed to commit: %w", op, err)
	}
	return products, nil
}

// querier — общее у пула и транзакции
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *ProductRepository) updateOne(ctx context.Context, q querier, patch model.ProductPatch, farmerID string) (model.Product, error) {
	set := map[string]any{"updated_at": squirrel.Expr("now()")}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Category != nil {
		set["category"] = *patch.Category
	}
	if patch.Price != nil {
		set["price"] = *patch.Price
	}
	if patch.Stock != nil {
		set["stock"] = *patch.Stock
	}
	if patch.Unit != nil {
		set["unit"] = *patch.Unit
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}

	where := squirrel.Eq{"id": patch.ProductID}
	if farmerID != "" {
		where["farmer_id"] = farmerID
	}

	sql, args, err := r.sq.Update("products").
		SetMap(set).
		Where(where).
		Suffix("RETURNING id, farmer_id, name, category, price, stock, unit, status, image, updated_at").
		ToSql()
	if err != nil {
		return model.Product{}, fmt.Errorf("failed to build update query: %w", err)
	}

	product, err := scanProduct(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Product{}, fmt.Errorf("product %s: %w", patch.ProductID, model.ErrProductNotFound)
		}
		return model.Product{}, fmt.Errorf("failed to update product %s: %w", patch.ProductID, err)
	}
	return product, nil
}
