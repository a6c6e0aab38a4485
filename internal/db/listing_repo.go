package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
)

const listingColumns = `id, user_id, category, city, title, description, price, contact_info,
	attributes, image_urls, image_ids, created_at, updated_at`

// ListingQuery параметры выборки объявлений; пустые поля не ограничивают выборку
type ListingQuery struct {
	Category string
	UserID   string
	IDs      []string
}

// ListingRepository хранилище объявлений в Postgres
type ListingRepository struct {
	pool *pgxpool.Pool
}

// NewListingRepository создает репозиторий объявлений
func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

// List возвращает объявления по фильтру, новые первыми
func (r *ListingRepository) List(ctx context.Context, q ListingQuery) ([]models.Listing, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1 = 1`
	var args []interface{}
	if q.Category != "" {
		args = append(args, q.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if q.UserID != "" {
		args = append(args, q.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if q.IDs != nil {
		args = append(args, q.IDs)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Transient("listings.list", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, errs.Transient("listings.scan", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transient("listings.list", err)
	}
	return listings, nil
}

// Get возвращает объявление по ID
func (r *ListingRepository) Get(ctx context.Context, id string) (models.Listing, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	listing, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Listing{}, errs.NotFound("listings.get", "Объявление не найдено")
	}
	if err != nil {
		return models.Listing{}, errs.Transient("listings.get", err)
	}
	return listing, nil
}

// Create сохраняет новое объявление; CreatedAt и UpdatedAt проставляет база
func (r *ListingRepository) Create(ctx context.Context, l *models.Listing) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	attrs, urls, ids, err := listingArgs(*l)
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO listings (id, user_id, category, city, title, description, price, contact_info,
			attributes, image_urls, image_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, l.ID, l.UserID, l.Category, l.City, l.Title, l.Description, l.Price, l.ContactInfo,
		attrs, urls, ids).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return errs.Transient("listings.create", err)
	}
	return nil
}

// Update перезаписывает поля объявления владельца
func (r *ListingRepository) Update(ctx context.Context, l *models.Listing) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	attrs, urls, ids, err := listingArgs(*l)
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx, `
		UPDATE listings
		SET category = $3, city = $4, title = $5, description = $6, price = $7, contact_info = $8,
			attributes = $9, image_urls = $10, image_ids = $11, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING created_at, updated_at
	`, l.ID, l.UserID, l.Category, l.City, l.Title, l.Description, l.Price, l.ContactInfo,
		attrs, urls, ids).Scan(&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.ownershipError(ctx, "listings.update", l.ID)
	}
	if err != nil {
		return errs.Transient("listings.update", err)
	}
	return nil
}

// Delete удаляет объявление владельца (избранное удаляется каскадно)
func (r *ListingRepository) Delete(ctx context.Context, id, userID string) (models.Listing, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `DELETE FROM listings WHERE id = $1 AND user_id = $2 RETURNING `+listingColumns, id, userID)
	listing, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Listing{}, r.ownershipError(ctx, "listings.delete", id)
	}
	if err != nil {
		return models.Listing{}, errs.Transient("listings.delete", err)
	}
	return listing, nil
}

// ownershipError различает "нет такого объявления" и "чужое объявление"
func (r *ListingRepository) ownershipError(ctx context.Context, op, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errs.Transient(op, err)
	}
	if !exists {
		return errs.NotFound(op, "Объявление не найдено")
	}
	return errs.Forbidden(op, "У вас нет доступа к этому объявлению")
}

func listingArgs(l models.Listing) (attrs []byte, urls, ids []string, err error) {
	if l.Attributes == nil {
		l.Attributes = map[string]string{}
	}
	attrs, err = json.Marshal(l.Attributes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ошибка сериализации атрибутов: %w", err)
	}
	urls = make([]string, 0, len(l.Images))
	ids = make([]string, 0, len(l.Images))
	for _, img := range l.Images {
		urls = append(urls, img.URL)
		ids = append(ids, img.PublicID)
	}
	return attrs, urls, ids, nil
}

func scanListing(row pgx.Row) (models.Listing, error) {
	var (
		listing   models.Listing
		attrBytes []byte
		urls, ids []string
	)
	if err := row.Scan(
		&listing.ID,
		&listing.UserID,
		&listing.Category,
		&listing.City,
		&listing.Title,
		&listing.Description,
		&listing.Price,
		&listing.ContactInfo,
		&attrBytes,
		&urls,
		&ids,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	); err != nil {
		return models.Listing{}, err
	}

	// Преобразуем атрибуты из JSON, если они есть
	if len(attrBytes) > 0 {
		if err := json.Unmarshal(attrBytes, &listing.Attributes); err != nil {
			return models.Listing{}, fmt.Errorf("ошибка разбора атрибутов: %w", err)
		}
	}
	for i, u := range urls {
		img := models.ListingImage{URL: u}
		if i < len(ids) {
			img.PublicID = ids[i]
		}
		listing.Images = append(listing.Images, img)
	}
	return listing, nil
}
