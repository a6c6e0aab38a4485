package models

import (
	"time"
)

// Listing представляет объявление в системе
type Listing struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Category    string            `json:"category"`
	City        string            `json:"city"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Price       float64           `json:"price"`
	ContactInfo string            `json:"contact_info,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Images      []ListingImage    `json:"images,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ListingImage ссылка на изображение объявления в Cloudinary
type ListingImage struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id,omitempty"`
}

// FeaturedImage возвращает главное (первое) изображение объявления
func (l Listing) FeaturedImage() string {
	if len(l.Images) == 0 {
		return ""
	}
	return l.Images[0].URL
}

// Clone возвращает копию объявления без общих map и срезов
func (l Listing) Clone() Listing {
	if l.Attributes != nil {
		attrs := make(map[string]string, len(l.Attributes))
		for k, v := range l.Attributes {
			attrs[k] = v
		}
		l.Attributes = attrs
	}
	if l.Images != nil {
		l.Images = append([]ListingImage(nil), l.Images...)
	}
	return l
}

// ListingChange уведомление об изменении коллекции объявлений
type ListingChange struct {
	ListingID string `json:"listing_id"`
	Category  string `json:"category"`
	// PrevCategory категория до изменения, если объявление перенесли
	PrevCategory string    `json:"prev_category,omitempty"`
	UserID       string    `json:"user_id"`
	Op           string    `json:"op"` // created, updated, deleted
	At           time.Time `json:"at"`
}

const (
	ListingCreated = "created"
	ListingUpdated = "updated"
	ListingDeleted = "deleted"
)

// Touches проверяет, затрагивает ли изменение категорию (пустая категория значит все)
func (c ListingChange) Touches(category string) bool {
	return category == "" || c.Category == category || c.PrevCategory == category
}
