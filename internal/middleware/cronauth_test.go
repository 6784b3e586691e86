package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/portera/portera/internal/config"
)

func cronAuthApp(t *testing.T, cfg config.Config) (*fiber.App, *int) {
	t.Helper()
	app := fiber.New()
	reached := 0
	app.Post("/internal/escrow/release", CronAuth(cfg), func(c *fiber.Ctx) error {
		reached++
		return c.SendStatus(fiber.StatusOK)
	})
	return app, &reached
}

func trigger(t *testing.T, app *fiber.App, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/internal/escrow/release", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp.StatusCode
}

func TestCronAuthRejectsAnonymousCalls(t *testing.T) {
	app, reached := cronAuthApp(t, config.Config{CronSecret: "s3cret", SchedulerBeacon: "beacon-1"})

	if code := trigger(t, app, nil); code != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := trigger(t, app, map[string]string{fiber.HeaderAuthorization: "Bearer wrong"}); code != fiber.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %d", code)
	}
	if code := trigger(t, app, map[string]string{beaconHeader: "not-the-beacon"}); code != fiber.StatusUnauthorized {
		t.Fatalf("wrong beacon: expected 401, got %d", code)
	}
	if *reached != 0 {
		t.Fatalf("handler reached %d times on unauthorized calls", *reached)
	}
}

func TestCronAuthAcceptsBeaconHeader(t *testing.T) {
	app, reached := cronAuthApp(t, config.Config{SchedulerBeacon: "beacon-1"})

	if code := trigger(t, app, map[string]string{beaconHeader: "beacon-1"}); code != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if *reached != 1 {
		t.Fatal("handler not reached")
	}
}

func TestCronAuthAcceptsBearerSecret(t *testing.T) {
	app, reached := cronAuthApp(t, config.Config{CronSecret: "s3cret"})

	if code := trigger(t, app, map[string]string{fiber.HeaderAuthorization: "Bearer s3cret"}); code != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if *reached != 1 {
		t.Fatal("handler not reached")
	}
}

func TestCronAuthVerifiesBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	app, _ := cronAuthApp(t, config.Config{CronSecretHash: string(hash)})

	if code := trigger(t, app, map[string]string{fiber.HeaderAuthorization: "Bearer s3cret"}); code != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := trigger(t, app, map[string]string{fiber.HeaderAuthorization: "Bearer nope"}); code != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
