package controller

import (
	"araquem/internal/dto"
	"araquem/internal/pkg/serverutils"
	"araquem/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IOpsController interface {
	RegisterRoutes(r fiber.Router)
	BustCache(ctx *fiber.Ctx) error
	PushQuality(ctx *fiber.Ctx) error
}

type opsController struct {
	opsService     service.IOpsService
	qualityService service.IQualityService
	token          string
}

func NewOpsController(opsService service.IOpsService, qualityService service.IQualityService, token string) IOpsController {
	return &opsController{
		opsService:     opsService,
		qualityService: qualityService,
		token:          token,
	}
}

func (c *opsController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/ops")
	h.Use(serverutils.OpsTokenMiddleware(c.token))
	h.Post("/cache/bust", c.BustCache)
	h.Post("/quality/push", c.PushQuality)
}

func (c *opsController) BustCache(ctx *fiber.Ctx) error {
	var req dto.CacheBustRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(fiber.StatusBadRequest, "Invalid request body"))
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.opsService.BustCache(ctx.UserContext(), &req)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(fiber.StatusBadRequest, err.Error()))
	}
	return ctx.JSON(serverutils.SuccessResponse("Cache key busted", res))
}

func (c *opsController) PushQuality(ctx *fiber.Ctx) error {
	var req dto.QualityPushRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(fiber.StatusBadRequest, "Invalid request body"))
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.qualityService.Push(ctx.UserContext(), &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Quality samples checked", res))
}
