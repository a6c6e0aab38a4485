package cloudinary

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-market/internal/middleware"
)

// SetupRoutes настраивает маршруты загрузки изображений
func (s *CloudinaryService) SetupRoutes(app *fiber.App) {
	// Маршрут для получения параметров загрузки
	app.Get("/api/upload/params", middleware.AuthMiddleware(s.jwtService), s.GenerateUploadParams)
}
