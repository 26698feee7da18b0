package tests

import (
	"sync"

	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/sakashimaa/order-backend/internal/service"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestCreateOrder_Success() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)

	out := s.createOrder(userID, productID, 2, "")

	s.Require().False(out.WasDuplicate)
	s.Require().Equal(domain.OrderStatusCreated, out.Order.Status)
	s.Require().Equal(userID, out.Order.UserID)
	s.Require().Len(out.Order.Items, 1)
	s.Require().Equal(int32(2), out.Order.Items[0].Quantity)

	s.Require().Equal(int32(3), s.productStock(productID))
}

func (s *IntegrationTestSuite) TestCreateOrder_IdempotentReplay() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)

	first := s.createOrder(userID, productID, 2, "key-1")
	second := s.createOrder(userID, productID, 2, "key-1")

	s.Require().False(first.WasDuplicate)
	s.Require().True(second.WasDuplicate)
	s.Require().Equal(first.Order.ID, second.Order.ID)

	s.Require().Equal(int64(1), s.countRows("orders"))
	s.Require().Equal(int32(3), s.productStock(productID))
}

func (s *IntegrationTestSuite) TestCreateOrder_InsufficientStock_NoPartialWrites() {
	userID := s.seedUser("test@example.com")
	cheapID := s.seedProduct("Pencil", 10)
	rareID := s.seedProduct("Kuronami No Yaiba", 1)

	_, err := s.OrderService.CreateOrder(s.Ctx, service.CreateOrderInput{
		UserID: userID,
		Items: []service.CreateOrderItem{
			{ProductID: cheapID, Quantity: 3, PriceSnapshot: decimal.NewFromFloat(1.50)},
			{ProductID: rareID, Quantity: 2, PriceSnapshot: decimal.NewFromFloat(53.50)},
		},
	})
	s.Require().ErrorIs(err, service.ErrInsufficientStock)

	s.Require().Equal(int64(0), s.countRows("orders"))
	s.Require().Equal(int64(0), s.countRows("order_items"))
	s.Require().Equal(int32(10), s.productStock(cheapID))
	s.Require().Equal(int32(1), s.productStock(rareID))
}

func (s *IntegrationTestSuite) TestCreateOrder_ConcurrentOversell() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.OrderService.CreateOrder(s.Ctx, service.CreateOrderInput{
				UserID: userID,
				Items: []service.CreateOrderItem{
					{ProductID: productID, Quantity: 1, PriceSnapshot: decimal.NewFromFloat(53.50)},
				},
			})
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			s.Require().ErrorIs(err, service.ErrInsufficientStock)
			failures++
		}
	}

	s.Require().Equal(1, failures)
	s.Require().Equal(int64(1), s.countRows("orders"))
	s.Require().Equal(int32(0), s.productStock(productID))
}

func (s *IntegrationTestSuite) TestCreateOrder_ConcurrentSameKey() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)

	var wg sync.WaitGroup
	outs := make([]*service.CreateOrderOutput, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = s.OrderService.CreateOrder(s.Ctx, service.CreateOrderInput{
				UserID:         userID,
				IdempotencyKey: "key-race",
				Items: []service.CreateOrderItem{
					{ProductID: productID, Quantity: 2, PriceSnapshot: decimal.NewFromFloat(53.50)},
				},
			})
		}(i)
	}
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])
	s.Require().Equal(outs[0].Order.ID, outs[1].Order.ID)

	s.Require().Equal(int64(1), s.countRows("orders"))
	s.Require().Equal(int32(3), s.productStock(productID))
}

func (s *IntegrationTestSuite) TestCreateOrder_EmptyItems() {
	userID := s.seedUser("test@example.com")

	_, err := s.OrderService.CreateOrder(s.Ctx, service.CreateOrderInput{
		UserID: userID,
	})
	s.Require().ErrorIs(err, service.ErrEmptyItems)
}

func (s *IntegrationTestSuite) TestCreateOrder_NonPositiveQuantity() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)

	_, err := s.OrderService.CreateOrder(s.Ctx, service.CreateOrderInput{
		UserID: userID,
		Items: []service.CreateOrderItem{
			{ProductID: productID, Quantity: 0, PriceSnapshot: decimal.NewFromFloat(53.50)},
		},
	})
	s.Require().ErrorIs(err, service.ErrQuantityNotPositive)

	s.Require().Equal(int64(0), s.countRows("orders"))
	s.Require().Equal(int32(5), s.productStock(productID))
}

func (s *IntegrationTestSuite) TestCreateOrder_UnknownUser() {
	productID := s.seedProduct("Kuronami No Yaiba", 5)

	_, err := s.OrderService.CreateOrder(s.Ctx, service.CreateOrderInput{
		UserID: "6f1e6a3a-1111-4222-8333-444455556666",
		Items: []service.CreateOrderItem{
			{ProductID: productID, Quantity: 1, PriceSnapshot: decimal.NewFromFloat(53.50)},
		},
	})
	s.Require().ErrorIs(err, repository.ErrUserNotFound)
}

func (s *IntegrationTestSuite) TestCreateOrder_UnknownProduct() {
	userID := s.seedUser("test@example.com")

	_, err := s.OrderService.CreateOrder(s.Ctx, service.CreateOrderInput{
		UserID: userID,
		Items: []service.CreateOrderItem{
			{ProductID: "6f1e6a3a-1111-4222-8333-444455556666", Quantity: 1, PriceSnapshot: decimal.NewFromFloat(53.50)},
		},
	})
	s.Require().ErrorIs(err, repository.ErrProductNotFound)

	s.Require().Equal(int64(0), s.countRows("orders"))
}
