package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/pkg/errors"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

type memUsers struct {
	byTelegram map[int64]*db.User
}

func (m *memUsers) UpsertTelegramUser(_ context.Context, p db.TelegramProfile) (*db.User, error) {
	if u, ok := m.byTelegram[p.TelegramID]; ok {
		u.FirstName = p.FirstName
		return u, nil
	}
	u := &db.User{
		ID:         "6f1c2d7e-1111-4a4a-9b9b-000000000001",
		TelegramID: p.TelegramID,
		Username:   p.Username,
		FirstName:  p.FirstName,
	}
	m.byTelegram[p.TelegramID] = u
	return u, nil
}

func (m *memUsers) GetUser(_ context.Context, id string) (*db.User, error) {
	for _, u := range m.byTelegram {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, errs.NotFound("users.get", "Пользователь не найден")
}

func newTestAuth() (*AuthService, *fiber.App, *utils.JWTService) {
	jwtService := utils.NewJWTService("secret")
	svc := NewAuthService("bot-token", &memUsers{byTelegram: map[int64]*db.User{}}, jwtService, nil)
	svc.parse = func(raw string) (initdata.InitData, error) {
		if raw != "valid" {
			return initdata.InitData{}, errors.New("signature mismatch")
		}
		var data initdata.InitData
		data.User.ID = 42
		data.User.FirstName = "Sara"
		data.User.Username = "sara"
		return data, nil
	}
	app := fiber.New()
	svc.SetupRoutes(app)
	return svc, app, jwtService
}

func post(t *testing.T, app *fiber.App, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/telegram", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestTelegramAuthIssuesTokenForStoredUser(t *testing.T) {
	_, app, jwtService := newTestAuth()

	code, body := post(t, app, map[string]string{"init_data": "valid"})
	if code != fiber.StatusOK {
		t.Fatalf("status = %d body = %v", code, body)
	}
	token, _ := body["token"].(string)
	userID, err := jwtService.ExtractUserID(token)
	if err != nil {
		t.Fatalf("ExtractUserID: %v", err)
	}
	if userID != "6f1c2d7e-1111-4a4a-9b9b-000000000001" {
		t.Fatalf("token subject = %q, want stored user id", userID)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("profile status = %d", resp.StatusCode)
	}
}

func TestTelegramAuthRejectsBadInitData(t *testing.T) {
	_, app, _ := newTestAuth()

	if code, _ := post(t, app, map[string]string{"init_data": "forged"}); code != fiber.StatusUnauthorized {
		t.Fatalf("forged status = %d", code)
	}
	if code, _ := post(t, app, map[string]string{}); code != fiber.StatusBadRequest {
		t.Fatalf("empty status = %d", code)
	}
}

func TestProfileRequiresToken(t *testing.T) {
	_, app, _ := newTestAuth()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
