package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
)

// FavoriteRepository хранилище избранных объявлений (SavedAdSet)
type FavoriteRepository struct {
	pool *pgxpool.Pool
}

// NewFavoriteRepository создает репозиторий избранного
func NewFavoriteRepository(pool *pgxpool.Pool) *FavoriteRepository {
	return &FavoriteRepository{pool: pool}
}

// Toggle переключает наличие объявления в избранном одной атомарной записью.
// Возвращает true, если после вызова объявление в избранном.
func (r *FavoriteRepository) Toggle(ctx context.Context, userID, listingID string) (bool, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var saved bool
	err := r.pool.QueryRow(ctx, `
		WITH removed AS (
			DELETE FROM favorites WHERE user_id = $1 AND listing_id = $2
			RETURNING listing_id
		)
		INSERT INTO favorites (user_id, listing_id)
		SELECT $1, $2
		WHERE NOT EXISTS (SELECT 1 FROM removed)
		RETURNING true
	`, userID, listingID).Scan(&saved)

	// Ни одной вставленной строки: запись была и удалена
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errs.Transient("favorites.toggle", err)
	}
	return saved, nil
}

// IsSaved проверяет наличие объявления в избранном
func (r *FavoriteRepository) IsSaved(ctx context.Context, userID, listingID string) (bool, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM favorites WHERE user_id = $1 AND listing_id = $2)
	`, userID, listingID).Scan(&exists)
	if err != nil {
		return false, errs.Transient("favorites.exists", err)
	}
	return exists, nil
}

// List возвращает записи избранного пользователя, новые первыми
func (r *FavoriteRepository) List(ctx context.Context, userID string) ([]models.Favorite, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, listing_id, created_at
		FROM favorites
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, errs.Transient("favorites.list", err)
	}
	defer rows.Close()

	var favorites []models.Favorite
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.UserID, &f.ListingID, &f.CreatedAt); err != nil {
			return nil, errs.Transient("favorites.scan", err)
		}
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}
