package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/sakashimaa/order-backend/pkg/auth"
	"github.com/sakashimaa/order-backend/pkg/mylogger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderOutput, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	CanSubscribeToOrder(ctx context.Context, orderID string, claims *auth.Claims) error
}

// EventPublisher receives status-changed events after the transaction that
// caused them has committed.
type EventPublisher interface {
	Publish(event domain.StatusChangedEvent)
}

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, topic string, message interface{}) error
}

type CreateOrderItem struct {
	ProductID     string
	Quantity      int32
	PriceSnapshot decimal.Decimal
}

type CreateOrderInput struct {
	UserID         string
	Items          []CreateOrderItem
	IdempotencyKey string
	Status         domain.OrderStatus
}

type CreateOrderOutput struct {
	Order        *domain.Order
	WasDuplicate bool
}

type orderService struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	orderRepo   repository.OrderRepository
	events      EventPublisher
	producer    KafkaProducer
	statusTopic string
	lockTimeout time.Duration
	tracer      trace.Tracer
}

func NewOrderService(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	events EventPublisher,
	producer KafkaProducer,
	statusTopic string,
	lockTimeout time.Duration,
) OrderService {
	return &orderService{
		pool:        pool,
		logger:      logger,
		orderRepo:   orderRepo,
		events:      events,
		producer:    producer,
		statusTopic: statusTopic,
		lockTimeout: lockTimeout,
		tracer:      otel.Tracer("order_service"),
	}
}

// CreateOrder creates an order, its items and the matching stock decrements
// as one transaction. A request replayed with the same idempotency key gets
// the already committed order back instead of a second one.
func (s *orderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderOutput, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", input.UserID),
		attribute.Int("items", len(input.Items)),
	)

	if input.IdempotencyKey != "" {
		existing, err := s.resolveIdempotent(ctx, input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			// A previously accepted request is never re-validated.
			return &CreateOrderOutput{Order: existing, WasDuplicate: true}, nil
		}
	}

	if len(input.Items) == 0 {
		return nil, ErrEmptyItems
	}

	exists, err := s.orderRepo.UserExists(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return nil, repository.ErrUserNotFound
	}

	status := input.Status
	if status == "" {
		status = domain.OrderStatusCreated
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	order, err := s.createOrderTx(ctx, input, status)
	if err != nil {
		// Another call may have committed first with the same key. The
		// unique index rejects our insert, so the committed winner is the
		// order this request asked for.
		if repository.IsUniqueViolation(err) && input.IdempotencyKey != "" {
			existing, resolveErr := s.resolveIdempotent(ctx, input.IdempotencyKey)
			if resolveErr == nil && existing != nil {
				mylogger.Info(
					ctx,
					s.logger,
					"Recovered duplicate idempotency key as existing order",
					zap.String("order_id", existing.ID),
				)

				return &CreateOrderOutput{Order: existing, WasDuplicate: true}, nil
			}
		}

		return nil, err
	}

	return &CreateOrderOutput{Order: order, WasDuplicate: false}, nil
}

func (s *orderService) createOrderTx(ctx context.Context, input CreateOrderInput, status domain.OrderStatus) (*domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to begin transaction",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(shutdownCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				shutdownCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	// A transaction stuck behind a lock must not hold resources forever.
	if s.lockTimeout > 0 {
		query := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, query); err != nil {
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	order := &domain.Order{
		ID:             uuid.New().String(),
		UserID:         input.UserID,
		Status:         status,
		IdempotencyKey: input.IdempotencyKey,
		Items:          make([]domain.OrderItem, 0, len(input.Items)),
	}

	// The order row goes in first so items can reference it inside the same
	// transaction.
	if err := s.orderRepo.InsertOrder(ctx, tx, order); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to insert order",
			zap.String("user_id", input.UserID),
			zap.Error(err),
		)

		return nil, err
	}

	// Products are locked one at a time in the order the caller submitted
	// them. Two orders referencing the same two products in reverse order
	// can in theory deadlock; transactions stay short and lock_timeout
	// bounds the damage.
	for _, item := range input.Items {
		product, err := s.orderRepo.LockProduct(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}

		if item.Quantity <= 0 {
			return nil, ErrQuantityNotPositive
		}

		if product.Stock < item.Quantity {
			mylogger.Warn(
				ctx,
				s.logger,
				"Insufficient stock",
				zap.String("product_id", item.ProductID),
				zap.Int32("stock", product.Stock),
				zap.Int32("requested", item.Quantity),
			)

			return nil, ErrInsufficientStock
		}

		if err := s.orderRepo.UpdateProductStock(ctx, tx, item.ProductID, product.Stock-item.Quantity); err != nil {
			return nil, err
		}

		orderItem := domain.OrderItem{
			ID:            uuid.New().String(),
			OrderID:       order.ID,
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			PriceSnapshot: item.PriceSnapshot,
		}
		if err := s.orderRepo.InsertOrderItem(ctx, tx, &orderItem); err != nil {
			return nil, err
		}

		order.Items = append(order.Items, orderItem)
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return nil, err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.String("order_id", order.ID),
		zap.Int("items", len(order.Items)),
	)

	return order, nil
}

func (s *orderService) resolveIdempotent(ctx context.Context, key string) (*domain.Order, error) {
	existing, err := s.orderRepo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to resolve idempotency key: %w", err)
	}

	return existing, nil
}

func (s *orderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", id),
	)

	return s.orderRepo.GetOrder(ctx, id)
}

func (s *orderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.orderRepo.ListOrders(ctx)
}

// UpdateOrderStatus commits the transition first and only then publishes the
// status-changed event, so subscribers never observe a state that was rolled
// back.
func (s *orderService) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", id),
		attribute.String("status", string(status)),
	)

	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(shutdownCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				shutdownCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	version, err := s.orderRepo.UpdateStatus(ctx, tx, id, status)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	event := domain.StatusChangedEvent{
		OrderID: id,
		Status:  status,
		Version: version,
		Ts:      time.Now().UnixMilli(),
	}

	if s.events != nil {
		s.events.Publish(event)
	}

	if s.producer != nil {
		if err := s.producer.ProduceMessage(ctx, s.statusTopic, event); err != nil {
			mylogger.Warn(
				ctx,
				s.logger,
				"Failed to produce status event",
				zap.String("order_id", id),
				zap.Error(err),
			)
		}
	}

	return s.orderRepo.GetOrder(ctx, id)
}

func (s *orderService) DeleteOrder(ctx context.Context, id string) error {
	return s.orderRepo.DeleteOrder(ctx, id)
}

// CanSubscribeToOrder decides whether the principal may observe the order's
// status stream: the owner, an admin, or anyone holding the orders:read
// scope.
func (s *orderService) CanSubscribeToOrder(ctx context.Context, orderID string, claims *auth.Claims) error {
	order, err := s.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.UserID == claims.Subject {
		return nil
	}
	if claims.HasRole("admin") || claims.HasScope("orders:read") {
		return nil
	}

	mylogger.Warn(
		ctx,
		s.logger,
		"Subscription denied",
		zap.String("order_id", orderID),
		zap.String("subject", claims.Subject),
	)

	return ErrSubscriptionDenied
}
