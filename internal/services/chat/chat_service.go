package chat

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/middleware"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

// ChatStore хранилище переписок
type ChatStore interface {
	FindOrCreate(ctx context.Context, chat models.Chat) (models.Chat, error)
	Get(ctx context.Context, chatID string) (models.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]models.Chat, error)
}

// ListingGetter чтение объявления
type ListingGetter interface {
	Get(ctx context.Context, id string) (models.Listing, error)
}

// UserGetter чтение профиля пользователя
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// ImageUploader загрузка изображений в хранилище файлов
type ImageUploader interface {
	UploadImage(ctx context.Context, file io.Reader, folder string) (string, error)
}

// ChatService представляет сервис для работы с чатами
type ChatService struct {
	chats      ChatStore
	feed       Feed
	listings   ListingGetter
	users      UserGetter
	uploader   ImageUploader
	jwtService *utils.JWTService
	log        *zap.Logger
	now        func() time.Time
}

// NewChatService создает новый экземпляр ChatService
func NewChatService(chats ChatStore, feed Feed, listings ListingGetter, users UserGetter, uploader ImageUploader, jwtService *utils.JWTService, log *zap.Logger) *ChatService {
	return &ChatService{
		chats:      chats,
		feed:       feed,
		listings:   listings,
		users:      users,
		uploader:   uploader,
		jwtService: jwtService,
		log:        logger.OrNop(log).Named("chat"),
		now:        time.Now,
	}
}

// StartChat открывает переписку покупателя с продавцом по объявлению
func (s *ChatService) StartChat(ctx context.Context, id auth.Identity, listingID string) (models.Chat, error) {
	userID, ok := auth.Require(id)
	if !ok {
		return models.Chat{}, errs.AuthRequired("chat.start")
	}
	listing, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return models.Chat{}, err
	}
	if listing.UserID == userID {
		return models.Chat{}, errs.Validation("chat.start", "listing_id", "Нельзя написать по своему объявлению")
	}

	creatorName := ""
	if user, err := s.users.GetUser(ctx, userID); err == nil {
		creatorName = user.DisplayName()
	} else {
		s.log.Debug("Профиль пользователя не найден", zap.String("user_id", userID), zap.Error(err))
	}

	return s.chats.FindOrCreate(ctx, models.Chat{
		ListingID:     listing.ID,
		Title:         listing.Title,
		CreatedBy:     userID,
		CreatorName:   creatorName,
		FeaturedImage: listing.FeaturedImage(),
		Members:       map[string]bool{userID: true, listing.UserID: true},
		Timestamp:     s.now().UnixMilli(),
	})
}

// member возвращает переписку, если пользователь в ней состоит
func (s *ChatService) member(ctx context.Context, id auth.Identity, chatID, op string) (models.Chat, error) {
	userID, ok := auth.Require(id)
	if !ok {
		return models.Chat{}, errs.AuthRequired(op)
	}
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.HasMember(userID) {
		return models.Chat{}, errs.Forbidden(op, "У вас нет доступа к этому чату")
	}
	return chat, nil
}

// Authorize проверяет доступ пользователя к переписке
func (s *ChatService) Authorize(ctx context.Context, id auth.Identity, chatID string) error {
	_, err := s.member(ctx, id, chatID, "chat.open")
	return err
}

// Post отправляет сообщение в переписку от имени пользователя
func (s *ChatService) Post(ctx context.Context, id auth.Identity, chatID string, draft Draft) (models.Message, error) {
	if _, err := s.member(ctx, id, chatID, "chat.send"); err != nil {
		return models.Message{}, err
	}
	return Send(ctx, s.feed, id, chatID, draft, s.now)
}

// GetChats возвращает список чатов пользователя
func (s *ChatService) GetChats(c fiber.Ctx) error {
	userID, ok := auth.Require(middleware.Identity(c))
	if !ok {
		return errs.Respond(c, errs.AuthRequired("chat.list"))
	}

	chats, err := s.chats.ListForUser(c.Context(), userID)
	if err != nil {
		s.log.Error("Ошибка запроса чатов", zap.Error(err))
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{"chats": chats})
}

// CreateChat создает чат по объявлению
func (s *ChatService) CreateChat(c fiber.Ctx) error {
	var req struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.Bind().Body(&req); err != nil || req.ListingID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ID объявления не указан"})
	}

	chat, err := s.StartChat(c.Context(), middleware.Identity(c), req.ListingID)
	if err != nil {
		return errs.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"chat": chat})
}

// GetChatMessages возвращает сообщения чата новее after, новые первыми
func (s *ChatService) GetChatMessages(c fiber.Ctx) error {
	chatID := c.Params("id")
	if _, err := s.member(c.Context(), middleware.Identity(c), chatID, "chat.messages"); err != nil {
		return errs.Respond(c, err)
	}

	after, _ := strconv.ParseInt(c.Query("after", "0"), 10, 64)
	msgs, err := s.feed.Since(c.Context(), chatID, after)
	if err != nil {
		s.log.Error("Ошибка запроса сообщений", zap.String("chat_id", chatID), zap.Error(err))
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{"messages": newHistory(msgs).snapshot()})
}

// SendMessage отправляет текстовое сообщение или ссылку на изображение
func (s *ChatService) SendMessage(c fiber.Ctx) error {
	var draft Draft
	if err := c.Bind().Body(&draft); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	msg, err := s.Post(c.Context(), middleware.Identity(c), c.Params("id"), draft)
	if err != nil {
		return errs.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

// SendImage загружает изображение и отправляет его сообщением
func (s *ChatService) SendImage(c fiber.Ctx) error {
	chatID := c.Params("id")
	id := middleware.Identity(c)
	if _, err := s.member(c.Context(), id, chatID, "chat.send_image"); err != nil {
		return errs.Respond(c, err)
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Изображение не передано"})
	}
	file, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Не удалось прочитать изображение"})
	}
	defer file.Close()

	url, err := s.uploader.UploadImage(c.Context(), file, "chats/"+chatID)
	if err != nil {
		s.log.Error("Ошибка загрузки изображения", zap.String("chat_id", chatID), zap.Error(err))
		return errs.Respond(c, err)
	}

	msg, err := Send(c.Context(), s.feed, id, chatID, Draft{ImageURL: url}, s.now)
	if err != nil {
		return errs.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}
