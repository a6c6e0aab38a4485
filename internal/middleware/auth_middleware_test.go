package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-market/internal/utils"
)

func newTestApp(jwtService *utils.JWTService, mw fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/me", mw, func(c fiber.Ctx) error {
		id, ok := Identity(c).UserID()
		if !ok {
			return c.SendString("anonymous")
		}
		return c.SendString(id)
	})
	return app
}

func doGet(t *testing.T, app *fiber.App, header string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestAuthMiddleware(t *testing.T) {
	jwtService := utils.NewJWTService("secret")
	app := newTestApp(jwtService, AuthMiddleware(jwtService))
	userID := uuid.NewString()
	token, _ := jwtService.GenerateToken(userID)

	if code, _ := doGet(t, app, ""); code != fiber.StatusUnauthorized {
		t.Fatalf("no header: status %d", code)
	}
	if code, _ := doGet(t, app, "Token "+token); code != fiber.StatusUnauthorized {
		t.Fatalf("bad scheme: status %d", code)
	}
	notUUID, _ := jwtService.GenerateToken("42")
	if code, _ := doGet(t, app, "Bearer "+notUUID); code != fiber.StatusUnauthorized {
		t.Fatalf("non uuid user: status %d", code)
	}
	code, body := doGet(t, app, "Bearer "+token)
	if code != fiber.StatusOK || body != userID {
		t.Fatalf("valid token: %d %q", code, body)
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	jwtService := utils.NewJWTService("secret")
	app := newTestApp(jwtService, OptionalAuthMiddleware(jwtService))

	if code, body := doGet(t, app, ""); code != fiber.StatusOK || body != "anonymous" {
		t.Fatalf("no header: %d %q", code, body)
	}
	if code, body := doGet(t, app, "Bearer garbage"); code != fiber.StatusOK || body != "anonymous" {
		t.Fatalf("invalid token: %d %q", code, body)
	}
	userID := uuid.NewString()
	token, _ := jwtService.GenerateToken(userID)
	if _, body := doGet(t, app, "Bearer "+token); body != userID {
		t.Fatalf("valid token: %q", body)
	}
}
