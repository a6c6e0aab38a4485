package listing

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/middleware"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

// Store хранилище объявлений
type Store interface {
	List(ctx context.Context, q db.ListingQuery) ([]models.Listing, error)
	Get(ctx context.Context, id string) (models.Listing, error)
	Create(ctx context.Context, l *models.Listing) error
	Update(ctx context.Context, l *models.Listing) error
	Delete(ctx context.Context, id, userID string) (models.Listing, error)
}

// ListingService представляет сервис для работы с объявлениями
type ListingService struct {
	store      Store
	publisher  Publisher
	jwtService *utils.JWTService
	log        *zap.Logger
}

// NewListingService создает новый экземпляр ListingService
func NewListingService(store Store, publisher Publisher, jwtService *utils.JWTService, log *zap.Logger) *ListingService {
	return &ListingService{
		store:      store,
		publisher:  publisher,
		jwtService: jwtService,
		log:        logger.OrNop(log).Named("listing"),
	}
}

// Publish создает объявление текущего пользователя
func (s *ListingService) Publish(ctx context.Context, id auth.Identity, raw map[string]interface{}) (models.Listing, error) {
	userID, ok := auth.Require(id)
	if !ok {
		return models.Listing{}, errs.AuthRequired("listing.publish")
	}
	listing, err := DecodeForm(raw)
	if err != nil {
		return models.Listing{}, err
	}
	listing.ID = uuid.New().String()
	listing.UserID = userID

	if err := s.store.Create(ctx, &listing); err != nil {
		return models.Listing{}, err
	}
	s.notify(listing, "", models.ListingCreated)
	return listing, nil
}

// Edit перезаписывает объявление владельца
func (s *ListingService) Edit(ctx context.Context, id auth.Identity, listingID string, raw map[string]interface{}) (models.Listing, error) {
	userID, ok := auth.Require(id)
	if !ok {
		return models.Listing{}, errs.AuthRequired("listing.edit")
	}
	listing, err := DecodeForm(raw)
	if err != nil {
		return models.Listing{}, err
	}

	prev, err := s.store.Get(ctx, listingID)
	if err != nil {
		return models.Listing{}, err
	}
	if prev.UserID != userID {
		return models.Listing{}, errs.Forbidden("listing.edit", "У вас нет доступа к этому объявлению")
	}

	listing.ID = listingID
	listing.UserID = userID
	if err := s.store.Update(ctx, &listing); err != nil {
		return models.Listing{}, err
	}
	s.notify(listing, prev.Category, models.ListingUpdated)
	return listing, nil
}

// Remove удаляет объявление владельца
func (s *ListingService) Remove(ctx context.Context, id auth.Identity, listingID string) error {
	userID, ok := auth.Require(id)
	if !ok {
		return errs.AuthRequired("listing.remove")
	}
	removed, err := s.store.Delete(ctx, listingID, userID)
	if err != nil {
		return err
	}
	s.notify(removed, "", models.ListingDeleted)
	return nil
}

// Related объявления той же категории, кроме указанного
func (s *ListingService) Related(ctx context.Context, listingID string, limit int) ([]models.Listing, error) {
	current, err := s.store.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.List(ctx, db.ListingQuery{Category: current.Category})
	if err != nil {
		return nil, err
	}
	related := make([]models.Listing, 0, limit)
	for _, l := range all {
		if l.ID == listingID {
			continue
		}
		related = append(related, l)
		if len(related) == limit {
			break
		}
	}
	return related, nil
}

func (s *ListingService) notify(l models.Listing, prevCategory, op string) {
	change := models.ListingChange{
		ListingID: l.ID,
		Category:  l.Category,
		UserID:    l.UserID,
		Op:        op,
		At:        time.Now(),
	}
	if prevCategory != l.Category {
		change.PrevCategory = prevCategory
	}
	if err := s.publisher.Publish(realtime.SubjectListingsChanged, change); err != nil {
		s.log.Warn("⚠️ Не удалось опубликовать изменение объявления",
			zap.String("listing_id", l.ID), zap.String("op", op), zap.Error(err))
	}
}

// GetPublicListings возвращает ленту объявлений по категории, городу и строке поиска
func (s *ListingService) GetPublicListings(c fiber.Ctx) error {
	criteria := Criteria{
		Category: c.Query("category"),
		City:     c.Query("city"),
		Query:    c.Query("q"),
	}

	all, err := s.store.List(c.Context(), db.ListingQuery{Category: criteria.Category})
	if err != nil {
		s.log.Error("Ошибка получения объявлений", zap.Error(err))
		return errs.Respond(c, err)
	}

	listings := make([]models.Listing, 0, len(all))
	for _, l := range all {
		if criteria.Matches(l) {
			listings = append(listings, l)
		}
	}
	SortNewestFirst(listings)

	return c.JSON(fiber.Map{
		"listings": listings,
		"total":    len(listings),
	})
}

// GetListing возвращает объявление по ID
func (s *ListingService) GetListing(c fiber.Ctx) error {
	listing, err := s.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{"listing": listing})
}

// GetRelatedListings возвращает похожие объявления
func (s *ListingService) GetRelatedListings(c fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	related, err := s.Related(c.Context(), c.Params("id"), limit)
	if err != nil {
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{"listings": related})
}

// GetMyListings возвращает список объявлений текущего пользователя
func (s *ListingService) GetMyListings(c fiber.Ctx) error {
	userID, ok := auth.Require(middleware.Identity(c))
	if !ok {
		return errs.Respond(c, errs.AuthRequired("listing.my"))
	}
	listings, err := s.store.List(c.Context(), db.ListingQuery{UserID: userID})
	if err != nil {
		return errs.Respond(c, err)
	}
	listings = searchOwn(listings, c.Query("q"))
	SortNewestFirst(listings)
	return c.JSON(fiber.Map{"listings": listings, "total": len(listings)})
}

// CreateListing обрабатывает создание нового объявления
func (s *ListingService) CreateListing(c fiber.Ctx) error {
	var raw map[string]interface{}
	if err := c.Bind().Body(&raw); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	listing, err := s.Publish(c.Context(), middleware.Identity(c), raw)
	if err != nil {
		return errs.Respond(c, err)
	}

	s.log.Info("📦 Опубликовано объявление", zap.String("listing_id", listing.ID), zap.String("category", listing.Category))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"listing_id": listing.ID,
		"listing":    listing,
		"message":    "Объявление успешно создано",
	})
}

// UpdateListing обрабатывает обновление объявления
func (s *ListingService) UpdateListing(c fiber.Ctx) error {
	var raw map[string]interface{}
	if err := c.Bind().Body(&raw); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	listing, err := s.Edit(c.Context(), middleware.Identity(c), c.Params("id"), raw)
	if err != nil {
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"listing": listing,
		"message": "Объявление успешно обновлено",
	})
}

// DeleteListing обрабатывает удаление объявления
func (s *ListingService) DeleteListing(c fiber.Ctx) error {
	if err := s.Remove(c.Context(), middleware.Identity(c), c.Params("id")); err != nil {
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Объявление успешно удалено",
	})
}
