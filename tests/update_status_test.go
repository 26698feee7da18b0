package tests

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/sakashimaa/order-backend/internal/service"
	"github.com/sakashimaa/order-backend/pkg/auth"
)

func (s *IntegrationTestSuite) TestUpdateOrderStatus_BumpsVersionAndPublishes() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(userID, productID, 1, "")

	updated, err := s.OrderService.UpdateOrderStatus(s.Ctx, out.Order.ID, domain.OrderStatusPaid)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusPaid, updated.Status)

	var version int64
	err = s.DbPool.QueryRow(s.Ctx, `SELECT event_version FROM orders WHERE id = $1`, out.Order.ID).
		Scan(&version)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), version)

	s.Require().Eventually(func() bool {
		for _, event := range s.publishedEvents() {
			if event.OrderID == out.Order.ID &&
				event.Status == domain.OrderStatusPaid &&
				event.Version == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func (s *IntegrationTestSuite) TestUpdateOrderStatus_VersionGrowsPerChange() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(userID, productID, 1, "")

	_, err := s.OrderService.UpdateOrderStatus(s.Ctx, out.Order.ID, domain.OrderStatusPaid)
	s.Require().NoError(err)

	_, err = s.OrderService.UpdateOrderStatus(s.Ctx, out.Order.ID, domain.OrderStatusCancelled)
	s.Require().NoError(err)

	var version int64
	err = s.DbPool.QueryRow(s.Ctx, `SELECT event_version FROM orders WHERE id = $1`, out.Order.ID).
		Scan(&version)
	s.Require().NoError(err)
	s.Require().Equal(int64(2), version)
}

func (s *IntegrationTestSuite) TestUpdateOrderStatus_InvalidStatus() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(userID, productID, 1, "")

	_, err := s.OrderService.UpdateOrderStatus(s.Ctx, out.Order.ID, domain.OrderStatus("SHIPPED"))
	s.Require().ErrorIs(err, service.ErrInvalidStatus)
}

func (s *IntegrationTestSuite) TestUpdateOrderStatus_NotFound() {
	_, err := s.OrderService.UpdateOrderStatus(
		s.Ctx,
		"6f1e6a3a-1111-4222-8333-444455556666",
		domain.OrderStatusPaid,
	)
	s.Require().ErrorIs(err, repository.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestDeleteOrder() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(userID, productID, 1, "")

	s.Require().NoError(s.OrderService.DeleteOrder(s.Ctx, out.Order.ID))
	s.Require().Equal(int64(0), s.countRows("orders"))
	s.Require().Equal(int64(0), s.countRows("order_items"))

	err := s.OrderService.DeleteOrder(s.Ctx, out.Order.ID)
	s.Require().ErrorIs(err, repository.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestCanSubscribeToOrder() {
	ownerID := s.seedUser("owner@example.com")
	otherID := s.seedUser("other@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(ownerID, productID, 1, "")

	owner := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: ownerID}}
	s.Require().NoError(s.OrderService.CanSubscribeToOrder(s.Ctx, out.Order.ID, owner))

	stranger := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: otherID}}
	err := s.OrderService.CanSubscribeToOrder(s.Ctx, out.Order.ID, stranger)
	s.Require().ErrorIs(err, service.ErrSubscriptionDenied)

	admin := &auth.Claims{
		Roles:            []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: otherID},
	}
	s.Require().NoError(s.OrderService.CanSubscribeToOrder(s.Ctx, out.Order.ID, admin))

	support := &auth.Claims{
		Scopes:           []string{"orders:read"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: otherID},
	}
	s.Require().NoError(s.OrderService.CanSubscribeToOrder(s.Ctx, out.Order.ID, support))

	err = s.OrderService.CanSubscribeToOrder(s.Ctx, "6f1e6a3a-1111-4222-8333-444455556666", owner)
	s.Require().ErrorIs(err, repository.ErrOrderNotFound)
}
