package favorite

import (
	"context"

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

// SavedSet набор сохраненных объявлений пользователя
type SavedSet interface {
	Toggle(ctx context.Context, userID, listingID string) (bool, error)
	IsSaved(ctx context.Context, userID, listingID string) (bool, error)
	List(ctx context.Context, userID string) ([]models.Favorite, error)
}

// ListingSource чтение объявлений
type ListingSource interface {
	Get(ctx context.Context, id string) (models.Listing, error)
	List(ctx context.Context, q db.ListingQuery) ([]models.Listing, error)
}

// FavoriteService представляет сервис для работы с избранными объявлениями
type FavoriteService struct {
	saved      SavedSet
	listings   ListingSource
	jwtService *utils.JWTService
	log        *zap.Logger
}

// NewFavoriteService создает новый экземпляр FavoriteService
func NewFavoriteService(saved SavedSet, listings ListingSource, jwtService *utils.JWTService, log *zap.Logger) *FavoriteService {
	return &FavoriteService{
		saved:      saved,
		listings:   listings,
		jwtService: jwtService,
		log:        logger.OrNop(log).Named("favorite"),
	}
}

// Toggle добавляет объявление в избранное или убирает его оттуда.
// Возвращает новое состояние.
func (s *FavoriteService) Toggle(ctx context.Context, id auth.Identity, listingID string) (bool, error) {
	userID, ok := auth.Require(id)
	if !ok {
		return false, errs.AuthRequired("favorite.toggle")
	}
	if listingID == "" {
		return false, errs.Validation("favorite.toggle", "listing_id", "ID объявления не указан")
	}
	if _, err := s.listings.Get(ctx, listingID); err != nil {
		return false, err
	}
	return s.saved.Toggle(ctx, userID, listingID)
}

// Saved возвращает сохраненные объявления. Удаленные объявления пропускаются.
func (s *FavoriteService) Saved(ctx context.Context, id auth.Identity) ([]models.Favorite, error) {
	userID, ok := auth.Require(id)
	if !ok {
		return nil, errs.AuthRequired("favorite.list")
	}

	favorites, err := s.saved.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(favorites) == 0 {
		return []models.Favorite{}, nil
	}

	ids := make([]string, 0, len(favorites))
	for _, f := range favorites {
		ids = append(ids, f.ListingID)
	}
	listings, err := s.listings.List(ctx, db.ListingQuery{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}

	out := make([]models.Favorite, 0, len(favorites))
	for _, f := range favorites {
		l, ok := byID[f.ListingID]
		if !ok {
			s.log.Debug("Сохраненное объявление удалено", zap.String("listing_id", f.ListingID))
			continue
		}
		f.Listing = &l
		out = append(out, f)
	}
	return out, nil
}

// ToggleFavorite переключает объявление в избранном
func (s *FavoriteService) ToggleFavorite(c fiber.Ctx) error {
	var req struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.Bind().Body(&req); err != nil {
		s.log.Warn("Ошибка декодирования тела запроса", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	saved, err := s.Toggle(c.Context(), middleware.Identity(c), req.ListingID)
	if err != nil {
		if errs.KindOf(err) == errs.KindTransient {
			s.log.Error("Ошибка изменения избранного", zap.Error(err))
		}
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"is_favorite": saved,
	})
}

// GetFavorites возвращает список избранных объявлений пользователя
func (s *FavoriteService) GetFavorites(c fiber.Ctx) error {
	favorites, err := s.Saved(c.Context(), middleware.Identity(c))
	if err != nil {
		s.log.Error("Ошибка получения избранных объявлений", zap.Error(err))
		return errs.Respond(c, err)
	}
	return c.JSON(models.FavoriteResponse{Favorites: favorites, Total: len(favorites)})
}

// CheckFavorite проверяет, добавлено ли объявление в избранное
func (s *FavoriteService) CheckFavorite(c fiber.Ctx) error {
	userID, ok := auth.Require(middleware.Identity(c))
	if !ok {
		return errs.Respond(c, errs.AuthRequired("favorite.check"))
	}

	saved, err := s.saved.IsSaved(c.Context(), userID, c.Params("id"))
	if err != nil {
		s.log.Error("Ошибка проверки избранного", zap.Error(err))
		return errs.Respond(c, err)
	}
	return c.JSON(fiber.Map{"is_favorite": saved})
}
