package controller

import (
	"araquem/internal/service"
	"araquem/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type IHealthController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
}

type healthController struct {
	opsService service.IOpsService
}

func NewHealthController(opsService service.IOpsService) IHealthController {
	return &healthController{
		opsService: opsService,
	}
}

func (c *healthController) RegisterRoutes(r fiber.Router) {
	r.Get("/healthz", c.Health)
	r.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
}

// Health answers 503 only when a required dependency is down.
func (c *healthController) Health(ctx *fiber.Ctx) error {
	res := c.opsService.Health(ctx.UserContext())
	if res.Status == "down" {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(res)
	}
	return ctx.JSON(res)
}
