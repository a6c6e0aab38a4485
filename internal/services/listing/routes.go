package listing

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-market/internal/middleware"
)

// SetupRoutes настраивает маршруты для API объявлений
func (s *ListingService) SetupRoutes(app *fiber.App) {
	// Группа для API объявлений
	api := app.Group("/api/listings")

	// Защищенные маршруты (требуют авторизации); публичные живут под тем же префиксом,
	// поэтому middleware ставится на маршрут, а не на группу
	authRequired := middleware.AuthMiddleware(s.jwtService)

	// Маршрут для создания объявления
	api.Post("/create", authRequired, s.CreateListing)

	// Маршрут для получения списка своих объявлений
	api.Get("/my", authRequired, s.GetMyListings)

	// Маршрут для обновления объявления
	api.Put("/:id", authRequired, s.UpdateListing)

	// Маршрут для удаления объявления
	api.Delete("/:id", authRequired, s.DeleteListing)
}

// SetupPublicRoutes настраивает публичные маршруты для листингов
func (s *ListingService) SetupPublicRoutes(app *fiber.App) {
	// Публичный маршрут для списка объявлений
	app.Get("/api/listings", s.GetPublicListings)
	app.Get("/api/listings/:id", s.GetListing)
	app.Get("/api/listings/:id/related", s.GetRelatedListings)
}
