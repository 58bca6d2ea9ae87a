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

// OrderRepository инкапсулирует логику работы со снимками заказов в БД
type OrderRepository struct {
	db *pgxpool.Pool
	sq squirrel.StatementBuilderType
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{
		db: db,
		sq: builder(),
	}
}

// CreateOrder сохраняет заказ вместе с позициями в рамках одной транзакции
func (r *OrderRepository) CreateOrder(ctx context.Context, order model.OrderSnapshot) error {
	const op = "repository.postgres.order.CreateOrder"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	// гарантируем откат транзакции в случае любой ошибки
	defer tx.Rollback(ctx)

	// 1. Вставка в таблицу orders
	sql, args, err := r.sq.Insert("orders").
		Columns("order_id", "customer_id", "order_date", "delivery_fee", "total").
		Values(order.OrderID, order.CustomerID, order.OrderDate, order.DeliveryFee, order.Total).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build orders insert query: %w", op, err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: failed to insert into orders: %w", op, err)
	}

	// 2. Позиции одним запросом; position сохраняет исходный порядок
	insertItems := r.sq.Insert("order_items").
		Columns("order_id", "position", "product_id", "product_name", "quantity", "price_at_order", "image")
	for i, item := range order.Items {
		insertItems = insertItems.Values(
			order.OrderID, i, item.ProductID, item.ProductName, item.Quantity, item.PriceAtOrderTime, item.Image,
		)
	}
	sql, args, err = insertItems.ToSql()
	if err != nil {
		return fmt.Errorf("%s: failed to build order_items insert query: %w", op, err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: failed to insert order items: %w", op, err)
	}

	// если все прошло успешно, подтверждаем транзакцию
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: failed to commit: %w", op, err)
	}
	return nil
}

// GetRecentOrders извлекает последние limit заказов
// используется для прогрева кэша при старте
func (r *OrderRepository) GetRecentOrders(ctx context.Context, limit int) ([]model.OrderSnapshot, error) {
	const op = "repository.postgres.order.GetRecentOrders"

	sql, args, err := r.sq.Select("order_id", "customer_id", "order_date", "delivery_fee", "total").
		From("orders").
		OrderBy("order_date DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query orders: %w", op, err)
	}
	defer rows.Close()

	ordersMap := make(map[string]*model.OrderSnapshot)
	orderIDs := []string{}

	for rows.Next() {
		var o model.OrderSnapshot
		if err := rows.Scan(&o.OrderID, &o.CustomerID, &o.OrderDate, &o.DeliveryFee, &o.Total); err != nil {
			return nil, fmt.Errorf("%s: failed to scan order row: %w", op, err)
		}
		ordersMap[o.OrderID] = &o
		orderIDs = append(orderIDs, o.OrderID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to read orders: %w", op, err)
	}

	if len(orderIDs) == 0 {
		return []model.OrderSnapshot{}, nil // нет заказов — возвращаем пустой слайс
	}

	items, err := r.loadItems(ctx, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for orderID, orderItems := range items {
		if order, ok := ordersMap[orderID]; ok {
			order.Items = orderItems
		}
	}

	// сохраняем порядок по дате
	result := make([]model.OrderSnapshot, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *ordersMap[id])
	}

	return result, nil
}

// GetOrderByID извлекает один заказ из базы данных по его id
func (r *OrderRepository) GetOrderByID(ctx context.Context, orderID string) (model.OrderSnapshot, error) {
	const op = "repository.postgres.order.GetOrderByID"

	sql, args, err := r.sq.Select("order_id", "customer_id", "order_date", "delivery_fee", "total").
		From("orders").
		Where(squirrel.Eq{"order_id": orderID}).
		ToSql()
	if err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("%s: failed to build query: %w", op, err)
	}

	var order model.OrderSnapshot
	err = r.db.QueryRow(ctx, sql, args...).Scan(
		&order.OrderID, &order.CustomerID, &order.OrderDate, &order.DeliveryFee, &order.Total,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OrderSnapshot{}, fmt.Errorf("%s: %w", op, model.ErrOrderNotFound)
		}
		return model.OrderSnapshot{}, fmt.Errorf("%s: failed to query order: %w", op, err)
	}

	items, err := r.loadItems(ctx, []string{orderID})
	if err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	order.Items = items[orderID]

	return order, nil
}

// loadItems возвращает позиции заказов, сгруппированные по order_id, в исходном порядке
func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]model.OrderLineItem, error) {
	sql, args, err := r.sq.Select("order_id", "product_id", "product_name", "quantity", "price_at_order", "image").
		From("order_items").
		Where(squirrel.Eq{"order_id": orderIDs}).
		OrderBy("order_id", "position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build items query: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]model.OrderLineItem, len(orderIDs))
	for rows.Next() {
		var orderID string
		var item model.OrderLineItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtOrderTime, &item.Image); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	return result, nil
}
