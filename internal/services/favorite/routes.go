package favorite

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-market/internal/middleware"
)

// SetupRoutes настраивает маршруты для API избранного
func (s *FavoriteService) SetupRoutes(app *fiber.App) {
	// Группа для API избранного
	api := app.Group("/api/favorites")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения списка избранных объявлений
	api.Get("/", s.GetFavorites)

	// Маршрут для переключения объявления в избранном
	api.Post("/toggle", s.ToggleFavorite)

	// Маршрут для проверки, находится ли объявление в избранном
	api.Get("/:id/check", s.CheckFavorite)
}
