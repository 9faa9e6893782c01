package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", h.limiter())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	lc := h.deps.Loyalty

	// The payment provider authenticates with the webhook secret alone. The
	// route is matched before the v1 group's API key check runs.
	if h.deps.WebhookSecret != "" {
		api.Post("/v1/billing/payment-results", middleware.RequireWebhookSecret(h.deps.WebhookSecret), lc.HandlePaymentResult)
	}

	// API v1 routes
	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware(h.deps.APIKeys))

	v1.Post("/customers", lc.HandleEnsureCustomer)
	v1.Delete("/customers/:id", lc.HandleDeactivateCustomer)
	v1.Get("/customers/:id/loyalty", lc.HandleGetStatus)
	v1.Post("/customers/:id/orders", lc.HandleRecordOrder)
	v1.Post("/customers/:id/orders/price", lc.HandlePriceOrder)
	v1.Post("/customers/:id/redemptions", lc.HandleRedeemFreeItem)
	v1.Post("/customers/:id/subscription", lc.HandleActivateSubscription)
	v1.Delete("/customers/:id/subscription", lc.HandleCancelSubscription)

	if h.deps.WebhookSecret == "" {
		v1.Post("/billing/payment-results", lc.HandlePaymentResult)
	}

	if h.deps.Reports != nil {
		v1.Get("/reports/summary", h.deps.Reports.HandleSummary)
	}
}

func (h ApiRouter) limiter() fiber.Handler {
	limit := h.deps.RateLimit
	if limit <= 0 {
		limit = 120
	}
	window := h.deps.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	})
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
