package listing

import (
	"sort"
	"strings"

	"github.com/rajivgeraev/flippy-market/internal/models"
)

// Criteria критерии фильтрации ленты объявлений.
// Пустые поля ничего не ограничивают.
type Criteria struct {
	City     string `json:"city,omitempty"`
	Query    string `json:"query,omitempty"`
	Category string `json:"category,omitempty"`
}

// Matches проверяет объявление на соответствие критериям
func (c Criteria) Matches(l models.Listing) bool {
	if c.City != "" && l.City != c.City {
		return false
	}
	if c.Query != "" && !strings.Contains(strings.ToLower(l.Title), strings.ToLower(c.Query)) {
		return false
	}
	if c.Category != "" && l.Category != c.Category {
		return false
	}
	return true
}

// Apply пересчитывает производную ленту из известных объявлений целиком.
// Порядок: новые первыми, при равном времени по ID.
func Apply(known map[string]models.Listing, c Criteria) []models.Listing {
	out := make([]models.Listing, 0, len(known))
	for _, l := range known {
		if c.Matches(l) {
			out = append(out, l.Clone())
		}
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst сортирует объявления: новые первыми, при равном времени по ID
func SortNewestFirst(listings []models.Listing) {
	sort.Slice(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// searchOwn поиск по своим объявлениям: название или описание
func searchOwn(listings []models.Listing, query string) []models.Listing {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if q == "" ||
			strings.Contains(strings.ToLower(l.Title), q) ||
			strings.Contains(strings.ToLower(l.Description), q) {
			out = append(out, l)
		}
	}
	return out
}
