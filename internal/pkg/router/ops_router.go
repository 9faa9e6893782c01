package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type OpsRouter struct {
}

func (h OpsRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok"})
	})

	// prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// fiber runtime monitor
	app.Get("/monitor", monitor.New(monitor.Config{Title: "BeanCounter Monitor"}))
}

func NewOpsRouter() *OpsRouter {
	return &OpsRouter{}
}
