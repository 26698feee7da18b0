package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	InsertOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	LockProduct(ctx context.Context, tx pgx.Tx, productID string) (*domain.ProductStock, error)
	UpdateProductStock(ctx context.Context, tx pgx.Tx, productID string, stock int32) error
	InsertOrderItem(ctx context.Context, tx pgx.Tx, item *domain.OrderItem) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status domain.OrderStatus) (int64, error)
	DeleteOrder(ctx context.Context, id string) error
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

func (r *orderRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.FindByIdempotencyKey")
	defer span.End()

	query := `
		SELECT id, user_id, status, COALESCE(idempotency_key, ''), event_version, created_at, updated_at
		FROM orders
		WHERE idempotency_key = $1
	`

	var order domain.Order
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.IdempotencyKey,
		&order.EventVersion,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query order by idempotency key",
			zap.Error(err),
		)

		return nil, err
	}

	items, err := r.itemsOfOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *orderRepo) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to check user existence",
			zap.String("user_id", userID),
			zap.Error(err),
		)

		return false, err
	}

	return exists, nil
}

func (r *orderRepo) InsertOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.InsertOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("user_id", order.UserID),
	)

	query := `
		INSERT INTO orders (id, user_id, status, idempotency_key)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING event_version, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query, order.ID, order.UserID, order.Status, order.IdempotencyKey).Scan(
		&order.EventVersion,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

// LockProduct acquires a row-level write lock on the product and returns the
// stock value as of lock acquisition. The stock check must run against this
// value, not anything read before the lock.
func (r *orderRepo) LockProduct(ctx context.Context, tx pgx.Tx, productID string) (*domain.ProductStock, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.LockProduct")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", productID),
	)

	query := `
		SELECT id, stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`

	var product domain.ProductStock
	err := tx.QueryRow(ctx, query, productID).Scan(&product.ID, &product.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to lock product row",
			zap.String("product_id", productID),
			zap.Error(err),
		)

		return nil, err
	}

	return &product, nil
}

func (r *orderRepo) UpdateProductStock(ctx context.Context, tx pgx.Tx, productID string, stock int32) error {
	query := `
		UPDATE products
		SET stock = $1, updated_at = NOW()
		WHERE id = $2
	`

	commandTag, err := tx.Exec(ctx, query, stock, productID)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update product stock",
			zap.String("product_id", productID),
			zap.Error(err),
		)

		return err
	}

	if commandTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}

	return nil
}

func (r *orderRepo) InsertOrderItem(ctx context.Context, tx pgx.Tx, item *domain.OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, quantity, price_snapshot)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := tx.Exec(ctx, query, item.ID, item.OrderID, item.ProductID, item.Quantity, item.PriceSnapshot)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order item",
			zap.String("order_id", item.OrderID),
			zap.String("product_id", item.ProductID),
			zap.Error(err),
		)

		return err
	}

	return nil
}

func (r *orderRepo) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", id),
	)

	query := `
		SELECT id, user_id, status, COALESCE(idempotency_key, ''), event_version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.IdempotencyKey,
		&order.EventVersion,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, err
	}

	items, err := r.itemsOfOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *orderRepo) ListOrders(ctx context.Context) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListOrders")
	defer span.End()

	query := `
		SELECT id, user_id, status, COALESCE(idempotency_key, ''), event_version, created_at, updated_at
		FROM orders
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.Status,
			&order.IdempotencyKey,
			&order.EventVersion,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, err
		}

		order.Items = make([]domain.OrderItem, 0)
		byID[order.ID] = len(orders)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price_snapshot
		FROM order_items
		ORDER BY order_id, id
	`)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.PriceSnapshot); err != nil {
			return nil, err
		}

		if idx, ok := byID[item.OrderID]; ok {
			orders[idx].Items = append(orders[idx].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateStatus transitions the order status and bumps the per-order event
// version inside the caller's transaction. Returns the new version.
func (r *orderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status domain.OrderStatus) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", id),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE orders
		SET status = $2, event_version = event_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING event_version
	`

	var version int64
	err := tx.QueryRow(ctx, query, id, status).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOrderNotFound
		}

		span.RecordError(err)
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update order status",
			zap.String("order_id", id),
			zap.Error(err),
		)

		return 0, err
	}

	return version, nil
}

func (r *orderRepo) DeleteOrder(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to delete order",
			zap.String("order_id", id),
			zap.Error(err),
		)

		return err
	}

	if commandTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func (r *orderRepo) itemsOfOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, price_snapshot
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query order_items",
			zap.String("order_id", orderID),
			zap.Error(err),
		)

		return nil, err
	}
	defer rows.Close()

	result := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.PriceSnapshot,
		); err != nil {
			return nil, err
		}

		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
