package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BeanCounter/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the pieces the routes are wired to. Reports is optional.
// A nil LimiterStorage keeps rate limit counters in memory.
type Dependencies struct {
	Loyalty         *controllers.LoyaltyController
	Reports         *controllers.ReportController
	APIKeys         []string
	WebhookSecret   string
	RateLimit       int
	RateLimitWindow time.Duration
	LimiterStorage  fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Operational endpoints go first so they stay outside the API limiter.
	setup(app, NewOpsRouter(), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
