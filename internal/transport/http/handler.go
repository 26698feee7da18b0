package http

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/order-backend/internal/domain"
	"github.com/sakashimaa/order-backend/internal/events"
	"github.com/sakashimaa/order-backend/internal/repository"
	"github.com/sakashimaa/order-backend/internal/service"
	"github.com/sakashimaa/order-backend/pkg/mylogger"
	"github.com/sakashimaa/order-backend/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderHandler struct {
	service  service.OrderService
	bus      *events.Bus
	logger   *zap.Logger
	validate *validator.Validate
}

func NewOrderHandler(svc service.OrderService, bus *events.Bus, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service:  svc,
		bus:      bus,
		logger:   logger,
		validate: validator.New(),
	}
}

type createOrderItemRequest struct {
	ProductID     string          `json:"productId" validate:"required,uuid"`
	Quantity      int32           `json:"quantity"`
	PriceSnapshot decimal.Decimal `json:"priceSnapshot"`
}

type createOrderRequest struct {
	UserID         string                   `json:"userId" validate:"required,uuid"`
	Items          []createOrderItemRequest `json:"items" validate:"omitempty,dive"`
	IdempotencyKey string                   `json:"idempotencyKey"`
	Status         string                   `json:"status"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": utils.FormatValidationError(err)})
	}

	// The header wins over the body field when both are present.
	key := c.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}

	input := service.CreateOrderInput{
		UserID:         req.UserID,
		IdempotencyKey: key,
		Status:         domain.OrderStatus(req.Status),
		Items:          make([]service.CreateOrderItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, service.CreateOrderItem{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			PriceSnapshot: item.PriceSnapshot,
		})
	}

	out, err := h.service.CreateOrder(c.UserContext(), input)
	if err != nil {
		return h.respondError(c, err)
	}

	status := fiber.StatusCreated
	if out.WasDuplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"order":        out.Order,
		"wasDuplicate": out.WasDuplicate,
	})
}

func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.service.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	orders, err := h.service.ListOrders(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orders)
}

func (h *OrderHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": utils.FormatValidationError(err)})
	}

	order, err := h.service.UpdateOrderStatus(c.UserContext(), c.Params("id"), domain.OrderStatus(req.Status))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) DeleteOrder(c *fiber.Ctx) error {
	if err := h.service.DeleteOrder(c.UserContext(), c.Params("id")); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *OrderHandler) EventMetrics(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.bus.Metrics())
}

func (h *OrderHandler) respondError(c *fiber.Ctx, err error) error {
	status := statusFromError(err)
	if status == fiber.StatusInternalServerError {
		mylogger.Error(c.UserContext(), h.logger, "request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyItems),
		errors.Is(err, service.ErrQuantityNotPositive),
		errors.Is(err, service.ErrInvalidStatus):
		return fiber.StatusBadRequest
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrProductNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrInsufficientStock):
		return fiber.StatusConflict
	case repository.IsLockTimeout(err):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
