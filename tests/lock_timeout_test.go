package tests

import (
	"time"

	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/sakashimaa/order-backend/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *IntegrationTestSuite) TestCreateOrder_LockWaitTimeout() {
	userID := s.seedUser("test@example.com")
	productID := s.seedProduct("Kuronami No Yaiba", 5)

	// A side transaction holds the product row lock for the whole test, so
	// the create below can only end by hitting its lock_timeout.
	blocker, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = blocker.Rollback(s.Ctx) }()

	_, err = blocker.Exec(s.Ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID)
	s.Require().NoError(err)

	logger := zap.NewNop()
	repo := repository.NewOrderRepository(s.DbPool, logger)
	svc := service.NewOrderService(
		s.DbPool,
		logger,
		repo,
		s.Bus,
		nil,
		"order.status.changed",
		200*time.Millisecond,
	)

	_, err = svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		UserID: userID,
		Items: []service.CreateOrderItem{
			{ProductID: productID, Quantity: 1, PriceSnapshot: decimal.NewFromFloat(53.50)},
		},
	})
	s.Require().Error(err)
	s.Require().True(repository.IsLockTimeout(err), "expected a lock_timeout failure, got: %v", err)

	s.Require().NoError(blocker.Rollback(s.Ctx))

	s.Require().Equal(int64(0), s.countRows("orders"))
	s.Require().Equal(int32(5), s.productStock(productID))
}
