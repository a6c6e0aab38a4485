package auth

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	initdata "github.com/telegram-mini-apps/init-data-golang"
	"go.uber.org/zap"

	identity "github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/middleware"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

// initDataTTL срок жизни initData от Telegram
const initDataTTL = 24 * time.Hour

// UserStore хранилище пользователей
type UserStore interface {
	UpsertTelegramUser(ctx context.Context, p db.TelegramProfile) (*db.User, error)
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// AuthService – структура для обработки авторизации
type AuthService struct {
	users      UserStore
	jwtService *utils.JWTService
	log        *zap.Logger

	// parse проверяет подпись initData и разбирает его
	parse func(raw string) (initdata.InitData, error)
}

// NewAuthService – конструктор AuthService
func NewAuthService(botToken string, users UserStore, jwtService *utils.JWTService, log *zap.Logger) *AuthService {
	return &AuthService{
		users:      users,
		jwtService: jwtService,
		log:        logger.OrNop(log).Named("auth"),
		parse: func(raw string) (initdata.InitData, error) {
			if err := initdata.Validate(raw, botToken, initDataTTL); err != nil {
				return initdata.InitData{}, err
			}
			return initdata.Parse(raw)
		},
	}
}

// TelegramAuthHandler проверяет initData, создает JWT и возвращает его
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil || payload.InitData == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Некорректный запрос"})
	}

	// Проверяем и парсим initData
	data, err := s.parse(payload.InitData)
	if err != nil {
		s.log.Warn("⚠️ Неверные данные Telegram", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Неверные данные Telegram"})
	}

	user, err := s.users.UpsertTelegramUser(c.Context(), db.TelegramProfile{
		TelegramID: data.User.ID,
		Username:   data.User.Username,
		FirstName:  data.User.FirstName,
		LastName:   data.User.LastName,
		PhotoURL:   data.User.PhotoURL,
	})
	if err != nil {
		s.log.Error("❌ Ошибка сохранения пользователя", zap.Int64("telegram_id", data.User.ID), zap.Error(err))
		return errs.Respond(c, err)
	}

	// Генерируем JWT
	jwtToken, err := s.jwtService.GenerateToken(user.ID)
	if err != nil {
		s.log.Error("❌ Ошибка генерации JWT", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Не удалось создать токен"})
	}

	s.log.Info("✅ Пользователь авторизован", zap.String("user_id", user.ID))
	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  user,
	})
}

// ProfileHandler возвращает профиль текущего пользователя
func (s *AuthService) ProfileHandler(c fiber.Ctx) error {
	userID, ok := identity.Require(middleware.Identity(c))
	if !ok {
		return errs.Respond(c, errs.AuthRequired("auth.profile"))
	}

	user, err := s.users.GetUser(c.Context(), userID)
	if err != nil {
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}
