package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WebhookSecretHeader carries the shared secret of the payment provider.
const WebhookSecretHeader = "X-Webhook-Secret"

// RequireWebhookSecret guards provider callbacks with a shared secret. An
// empty secret leaves the route to the API key check alone.
func RequireWebhookSecret(secret string) fiber.Handler {
	secret = strings.TrimSpace(secret)
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		got := strings.TrimSpace(c.Get(WebhookSecretHeader))
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid webhook secret",
			})
		}
		return c.Next()
	}
}
