package serverutils

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

const OpsTokenHeader = "X-Ops-Token"

// OpsTokenMiddleware gates operator routes. An empty configured token keeps
// them closed.
func OpsTokenMiddleware(token string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if token == "" {
			return ctx.Status(fiber.StatusForbidden).JSON(ErrorResponse(fiber.StatusForbidden, "Ops endpoints are disabled"))
		}
		got := ctx.Get(OpsTokenHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid ops token"))
		}
		return ctx.Next()
	}
}
