package http

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(app *fiber.App, handler *OrderHandler, authMiddleware fiber.Handler) {
	api := app.Group("/api", authMiddleware)

	orders := api.Group("/orders")
	orders.Post("/", handler.CreateOrder)
	orders.Get("/", handler.ListOrders)
	orders.Get("/:id", handler.GetOrder)
	orders.Put("/:id", handler.UpdateOrderStatus)
	orders.Delete("/:id", handler.DeleteOrder)

	api.Get("/metrics/events", handler.EventMetrics)
}
