package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/portera/portera/internal/logging"
)

func setupIdempotencyApp(t *testing.T) (*fiber.App, *atomic.Int64, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))

	var hits atomic.Int64
	app.Post("/topup", func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true})
	})
	app.Post("/orders", func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"resource": "order"})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return app, &hits, cleanup
}

func postWithKey(t *testing.T, app *fiber.App, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	rec := httptest.NewRecorder()
	rec.Code = resp.StatusCode
	body, _ := io.ReadAll(resp.Body)
	rec.Body.Write(body)
	return rec
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _, cleanup := setupIdempotencyApp(t)
	defer cleanup()

	rec := postWithKey(t, app, "/topup", "")
	if rec.Code != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, rec.Code)
	}
}

func TestIdempotencyReplaysResponseWithoutRerunningHandler(t *testing.T) {
	app, hits, cleanup := setupIdempotencyApp(t)
	defer cleanup()

	first := postWithKey(t, app, "/topup", "client-key-1")
	if first.Code != fiber.StatusCreated {
		t.Fatalf("first call: expected 201 got %d", first.Code)
	}
	second := postWithKey(t, app, "/topup", "client-key-1")
	if second.Code != fiber.StatusCreated {
		t.Fatalf("replay: expected 201 got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
}

func TestIdempotencyKeyIsScopedPerEndpoint(t *testing.T) {
	app, hits, cleanup := setupIdempotencyApp(t)
	defer cleanup()

	topup := postWithKey(t, app, "/topup", "shared-key")
	orders := postWithKey(t, app, "/orders", "shared-key")

	if topup.Code != fiber.StatusCreated || orders.Code != fiber.StatusCreated {
		t.Fatalf("unexpected statuses: %d, %d", topup.Code, orders.Code)
	}
	if strings.Contains(orders.Body.String(), "ok") {
		t.Fatal("response replayed across endpoints")
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("handler ran %d times, want 2", got)
	}
}
