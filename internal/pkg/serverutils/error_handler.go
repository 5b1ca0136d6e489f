package serverutils

import (
	"errors"

	"lumina-be/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders every error escaping a route as {"error": message}. *fiber.Error
// keeps its status code; anything else is a 500 and is logged.
func ErrorHandler(log logger.ILogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			log.Error("Server", "Unhandled route error", map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
				"error":  err.Error(),
			})
		}

		return c.Status(code).JSON(fiber.Map{"error": message})
	}
}
