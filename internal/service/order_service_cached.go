package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/pkg/auth"
)

// cachedOrderService caches the order -> owner mapping so subscription checks
// do not hit postgres on every subscribe. The owner of an order never
// changes, so a cached entry only has to be dropped when the order itself is
// deleted.
type cachedOrderService struct {
	next        OrderService
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewCachedOrderService(next OrderService, redisClient *redis.Client) OrderService {
	return &cachedOrderService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    time.Minute * 10,
	}
}

func ownerKey(orderID string) string {
	return "order_owner:" + orderID
}

func (s *cachedOrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderOutput, error) {
	return s.next.CreateOrder(ctx, input)
}

func (s *cachedOrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.next.GetOrder(ctx, id)
}

func (s *cachedOrderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.next.ListOrders(ctx)
}

func (s *cachedOrderService) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	// Status transitions never move an order to another owner, so the cache
	// entry stays valid.
	return s.next.UpdateOrderStatus(ctx, id, status)
}

func (s *cachedOrderService) DeleteOrder(ctx context.Context, id string) error {
	err := s.next.DeleteOrder(ctx, id)
	if err != nil {
		return err
	}

	s.redisClient.Del(ctx, ownerKey(id))
	return nil
}

func (s *cachedOrderService) CanSubscribeToOrder(ctx context.Context, orderID string, claims *auth.Claims) error {
	key := ownerKey(orderID)

	if owner, err := s.redisClient.Get(ctx, key).Result(); err == nil && owner == claims.Subject {
		return nil
	}

	if err := s.next.CanSubscribeToOrder(ctx, orderID, claims); err != nil {
		return err
	}

	// A pass without an admin role or read scope can only mean the subject
	// owns the order, so that is the fact worth remembering.
	if !claims.HasRole("admin") && !claims.HasScope("orders:read") {
		s.redisClient.Set(ctx, key, claims.Subject, s.cacheTTL)
	}

	return nil
}
