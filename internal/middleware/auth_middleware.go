package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

const userIDKey = "userID"

// AuthMiddleware создаёт middleware для проверки JWT
func AuthMiddleware(jwtService *utils.JWTService) fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Отсутствует заголовок авторизации",
			})
		}

		userID, err := userFromHeader(jwtService, authHeader)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// Добавляем userID в контекст
		c.Locals(userIDKey, userID)

		return c.Next()
	}
}

// OptionalAuthMiddleware кладет userID в контекст, если передан валидный токен,
// и пропускает запрос анонимно в остальных случаях
func OptionalAuthMiddleware(jwtService *utils.JWTService) fiber.Handler {
	return func(c fiber.Ctx) error {
		if authHeader := c.Get("Authorization"); authHeader != "" {
			if userID, err := userFromHeader(jwtService, authHeader); err == nil {
				c.Locals(userIDKey, userID)
			}
		}
		return c.Next()
	}
}

// Identity возвращает текущего пользователя запроса
func Identity(c fiber.Ctx) auth.Identity {
	userID, _ := c.Locals(userIDKey).(string)
	return auth.Static(userID)
}

// UserFromToken проверяет токен без префикса Bearer (для WebSocket)
func UserFromToken(jwtService *utils.JWTService, token string) (string, error) {
	userID, err := jwtService.ExtractUserID(token)
	if err != nil {
		return "", errInvalidToken
	}
	// Проверяем, что userID является валидным UUID
	if _, err := uuid.Parse(userID); err != nil {
		return "", errInvalidUser
	}
	return userID, nil
}

func userFromHeader(jwtService *utils.JWTService, header string) (string, error) {
	// Проверяем Bearer токен
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errInvalidFormat
	}
	return UserFromToken(jwtService, parts[1])
}

type authError string

func (e authError) Error() string { return string(e) }

const (
	errInvalidFormat = authError("Неверный формат заголовка авторизации")
	errInvalidToken  = authError("Недействительный или просроченный токен")
	errInvalidUser   = authError("Неверный ID пользователя")
)
