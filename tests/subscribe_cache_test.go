package tests

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/sakashimaa/order-backend/internal/service"
	"github.com/sakashimaa/order-backend/pkg/auth"
)

func (s *IntegrationTestSuite) redisClient() *redis.Client {
	opts, err := redis.ParseURL(s.StartRedis())
	s.Require().NoError(err)

	client := redis.NewClient(opts)
	s.Require().NoError(client.FlushAll(s.Ctx).Err())

	return client
}

func (s *IntegrationTestSuite) TestCanSubscribeToOrder_CachedOwnerLookup() {
	client := s.redisClient()
	cached := service.NewCachedOrderService(s.OrderService, client)

	ownerID := s.seedUser("owner@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(ownerID, productID, 1, "")

	owner := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: ownerID}}
	s.Require().NoError(cached.CanSubscribeToOrder(s.Ctx, out.Order.ID, owner))

	// The first check populated the cache; a second one must not need the
	// database row at all.
	_, err := s.DbPool.Exec(s.Ctx, `DELETE FROM orders WHERE id = $1`, out.Order.ID)
	s.Require().NoError(err)

	s.Require().NoError(cached.CanSubscribeToOrder(s.Ctx, out.Order.ID, owner))
}

func (s *IntegrationTestSuite) TestCanSubscribeToOrder_CacheDoesNotLeakAcrossSubjects() {
	client := s.redisClient()
	cached := service.NewCachedOrderService(s.OrderService, client)

	ownerID := s.seedUser("owner@example.com")
	otherID := s.seedUser("other@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(ownerID, productID, 1, "")

	owner := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: ownerID}}
	s.Require().NoError(cached.CanSubscribeToOrder(s.Ctx, out.Order.ID, owner))

	stranger := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: otherID}}
	err := cached.CanSubscribeToOrder(s.Ctx, out.Order.ID, stranger)
	s.Require().ErrorIs(err, service.ErrSubscriptionDenied)
}

func (s *IntegrationTestSuite) TestDeleteOrder_InvalidatesOwnerCache() {
	client := s.redisClient()
	cached := service.NewCachedOrderService(s.OrderService, client)

	ownerID := s.seedUser("owner@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(ownerID, productID, 1, "")

	owner := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: ownerID}}
	s.Require().NoError(cached.CanSubscribeToOrder(s.Ctx, out.Order.ID, owner))

	s.Require().NoError(cached.DeleteOrder(s.Ctx, out.Order.ID))

	err := cached.CanSubscribeToOrder(s.Ctx, out.Order.ID, owner)
	s.Require().ErrorIs(err, repository.ErrOrderNotFound)
}
