package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// KeyCaller holds the fingerprint of the API key that authenticated the request.
const KeyCaller = "api_caller"

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// ParseAPIKeys splits a comma separated key list and drops blanks.
func ParseAPIKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// APIKeyAuthMiddleware authenticates requests carrying one of keys in the
// X-API-Key header or as a bearer token. With no keys configured every
// request is rejected.
func APIKeyAuthMiddleware(keys []string) fiber.Handler {
	hashes := make([][]byte, 0, len(keys))
	for _, k := range keys {
		sum := sha256.Sum256([]byte(strings.TrimSpace(k)))
		hashes = append(hashes, sum[:])
	}
	if len(hashes) == 0 {
		log.Warn("[API] No API keys configured, all API requests will be rejected")
	}

	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		sum := sha256.Sum256([]byte(apiKey))
		matched := 0
		for _, h := range hashes {
			matched |= subtle.ConstantTimeCompare(sum[:], h)
		}
		if matched != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		c.Locals(KeyCaller, hex.EncodeToString(sum[:4]))
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
