package controller

import (
	"araquem/internal/dto"
	"araquem/internal/pkg/serverutils"
	"araquem/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAskController interface {
	RegisterRoutes(r fiber.Router)
	Ask(ctx *fiber.Ctx) error
}

type askController struct {
	askService service.IAskService
}

func NewAskController(askService service.IAskService) IAskController {
	return &askController{
		askService: askService,
	}
}

func (c *askController) RegisterRoutes(r fiber.Router) {
	r.Post("/ask", c.Ask)
}

// Ask answers 200 for ok, unroutable and blocked_by_quota. Routing failures
// answer 500 with status.reason "error".
func (c *askController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(fiber.StatusBadRequest, "Invalid request body"))
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.askService.Ask(ctx.UserContext(), &req, ctx.QueryBool("explain", false))
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(res)
	}
	return ctx.JSON(res)
}
