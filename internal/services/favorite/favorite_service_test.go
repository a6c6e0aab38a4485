package favorite

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

type memSaved struct {
	mu    sync.Mutex
	order []models.Favorite
	calls int
}

func (m *memSaved) Toggle(_ context.Context, userID, listingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for i, f := range m.order {
		if f.UserID == userID && f.ListingID == listingID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return false, nil
		}
	}
	m.order = append([]models.Favorite{{UserID: userID, ListingID: listingID, CreatedAt: time.Now()}}, m.order...)
	return true, nil
}

func (m *memSaved) IsSaved(_ context.Context, userID, listingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.order {
		if f.UserID == userID && f.ListingID == listingID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memSaved) List(_ context.Context, userID string) ([]models.Favorite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Favorite
	for _, f := range m.order {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

type memListings map[string]models.Listing

func (m memListings) Get(_ context.Context, id string) (models.Listing, error) {
	l, ok := m[id]
	if !ok {
		return models.Listing{}, errs.NotFound("listing.get", "Объявление не найдено")
	}
	return l, nil
}

func (m memListings) List(_ context.Context, q db.ListingQuery) ([]models.Listing, error) {
	var out []models.Listing
	for _, id := range q.IDs {
		if l, ok := m[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestToggleRequiresIdentity(t *testing.T) {
	saved := &memSaved{}
	svc := NewFavoriteService(saved, memListings{"a": {ID: "a"}}, nil, nil)

	if _, err := svc.Toggle(context.Background(), auth.Anonymous, "a"); !errs.Is(err, errs.KindAuthRequired) {
		t.Fatalf("err = %v", err)
	}
	if saved.calls != 0 {
		t.Fatalf("no write expected, got %d", saved.calls)
	}
}

func TestToggleFlipsMembership(t *testing.T) {
	saved := &memSaved{}
	svc := NewFavoriteService(saved, memListings{"a": {ID: "a"}}, nil, nil)
	id := auth.Static("u1")

	for i, want := range []bool{true, false, true} {
		got, err := svc.Toggle(context.Background(), id, "a")
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("toggle %d = %v, want %v", i, got, want)
		}
	}

	if _, err := svc.Toggle(context.Background(), id, "missing"); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("missing listing err = %v", err)
	}
}

func TestSavedSkipsDeletedListings(t *testing.T) {
	saved := &memSaved{}
	listings := memListings{"a": {ID: "a", Title: "Civic"}, "b": {ID: "b", Title: "Corolla"}}
	svc := NewFavoriteService(saved, listings, nil, nil)
	id := auth.Static("u1")

	for _, l := range []string{"a", "b"} {
		if _, err := svc.Toggle(context.Background(), id, l); err != nil {
			t.Fatalf("toggle %s: %v", l, err)
		}
	}
	delete(listings, "a")

	got, err := svc.Saved(context.Background(), id)
	if err != nil {
		t.Fatalf("Saved: %v", err)
	}
	if len(got) != 1 || got[0].Listing == nil || got[0].Listing.Title != "Corolla" {
		t.Fatalf("saved = %+v", got)
	}
}

func TestFavoriteHandlers(t *testing.T) {
	jwtService := utils.NewJWTService("secret")
	svc := NewFavoriteService(&memSaved{}, memListings{"a": {ID: "a"}}, jwtService, nil)
	app := fiber.New()
	svc.SetupRoutes(app)
	token, _ := jwtService.GenerateToken(uuid.NewString())

	do := func(method, path string, body interface{}) (int, map[string]interface{}) {
		data, _ := json.Marshal(body)
		req := httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		defer resp.Body.Close()
		var out map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	code, body := do(http.MethodPost, "/api/favorites/toggle", map[string]string{"listing_id": "a"})
	if code != fiber.StatusOK || body["is_favorite"] != true {
		t.Fatalf("toggle status = %d body = %v", code, body)
	}

	code, body = do(http.MethodGet, "/api/favorites/a/check", nil)
	if code != fiber.StatusOK || body["is_favorite"] != true {
		t.Fatalf("check status = %d body = %v", code, body)
	}

	code, body = do(http.MethodGet, "/api/favorites", nil)
	if code != fiber.StatusOK || body["total"] != float64(1) {
		t.Fatalf("list status = %d body = %v", code, body)
	}

	code, body = do(http.MethodPost, "/api/favorites/toggle", map[string]string{})
	if code != fiber.StatusBadRequest {
		t.Fatalf("empty id status = %d body = %v", code, body)
	}
}
