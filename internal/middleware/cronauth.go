package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/portera/portera/internal/config"
)

const beaconHeader = "X-Scheduler-Beacon"

// CronAuth guards the release trigger endpoint. A request is accepted when it
// carries the configured scheduler-origin beacon header, or a bearer token
// matching the shared cron secret. Rejected calls get a 401 before any
// side effect can happen.
func CronAuth(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.SchedulerBeacon != "" {
			beacon := c.Get(beaconHeader)
			if beacon != "" && subtle.ConstantTimeCompare([]byte(beacon), []byte(cfg.SchedulerBeacon)) == 1 {
				return c.Next()
			}
		}

		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token != "" && secretMatches(cfg, token) {
			return c.Next()
		}

		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}

func secretMatches(cfg config.Config, token string) bool {
	if cfg.CronSecretHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.CronSecretHash), []byte(token)) == nil
	}
	if cfg.CronSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(cfg.CronSecret)) == 1
}
