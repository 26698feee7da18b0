package tests

import (
	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestGetOrder_ReturnsItems() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)
	out := s.createOrder(userID, productID, 2, "")

	order, err := s.OrderService.GetOrder(s.Ctx, out.Order.ID)
	s.Require().NoError(err)
	s.Require().Equal(out.Order.ID, order.ID)
	s.Require().Len(order.Items, 1)
	s.Require().Equal(productID, order.Items[0].ProductID)
	s.Require().True(order.Items[0].PriceSnapshot.Equal(decimal.NewFromFloat(53.50)))
}

func (s *IntegrationTestSuite) TestGetOrder_NotFound() {
	_, err := s.OrderService.GetOrder(s.Ctx, "6f1e6a3a-1111-4222-8333-444455556666")
	s.Require().ErrorIs(err, repository.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestListOrders() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 10)

	first := s.createOrder(userID, productID, 1, "")
	second := s.createOrder(userID, productID, 2, "")

	orders, err := s.OrderService.ListOrders(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(orders, 2)

	byID := make(map[string]int32, len(orders))
	for _, order := range orders {
		s.Require().Len(order.Items, 1)
		byID[order.ID] = order.Items[0].Quantity
	}
	s.Require().Equal(int32(1), byID[first.Order.ID])
	s.Require().Equal(int32(2), byID[second.Order.ID])
}
