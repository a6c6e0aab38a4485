package models

import (
	"time"
)

// Favorite представляет запись избранного объявления
type Favorite struct {
	UserID    string    `json:"user_id"`
	ListingID string    `json:"listing_id"`
	CreatedAt time.Time `json:"created_at"`

	// Дополнительные поля для API
	Listing *Listing `json:"listing,omitempty"`
}

// FavoriteResponse представляет структуру ответа API с избранными объявлениями
type FavoriteResponse struct {
	Favorites []Favorite `json:"favorites"`
	Total     int        `json:"total"`
}
