package listing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
	"github.com/rajivgeraev/flippy-market/internal/txn"
)

// OwnerStore операции над объявлениями владельца
type OwnerStore interface {
	List(ctx context.Context, q db.ListingQuery) ([]models.Listing, error)
	Delete(ctx context.Context, id, userID string) (models.Listing, error)
}

// Publisher публикация событий изменений
type Publisher interface {
	Publish(subject string, v interface{}) error
}

// MyAds экран "Мои объявления": список своих объявлений, поиск
// и удаление с немедленным исчезновением из списка и откатом при ошибке
type MyAds struct {
	store     OwnerStore
	publisher Publisher
	identity  auth.Identity
	log       *zap.Logger
	onChange  func([]models.Listing)

	state *txn.Tentative[[]models.Listing]

	mu    sync.Mutex
	query string
}

// NewMyAds создает экран своих объявлений
func NewMyAds(store OwnerStore, publisher Publisher, identity auth.Identity, log *zap.Logger, onChange func([]models.Listing)) *MyAds {
	return &MyAds{
		store:     store,
		publisher: publisher,
		identity:  identity,
		log:       logger.OrNop(log).Named("my_ads"),
		onChange:  onChange,
		state:     txn.New([]models.Listing{}, cloneListings),
	}
}

// Load загружает объявления текущего пользователя
func (m *MyAds) Load(ctx context.Context) ([]models.Listing, error) {
	userID, ok := auth.Require(m.identity)
	if !ok {
		return nil, errs.AuthRequired("my_ads.load")
	}
	listings, err := m.store.List(ctx, db.ListingQuery{UserID: userID})
	if err != nil {
		return nil, err
	}
	SortNewestFirst(listings)
	m.state.Set(listings)
	return m.publish(), nil
}

// Search фильтрует свои объявления по названию или описанию
func (m *MyAds) Search(query string) []models.Listing {
	m.mu.Lock()
	m.query = query
	m.mu.Unlock()
	return m.publish()
}

// Listings текущий отфильтрованный список
func (m *MyAds) Listings() []models.Listing {
	m.mu.Lock()
	query := m.query
	m.mu.Unlock()
	return searchOwn(m.state.Get(), query)
}

// Delete убирает объявление из списка сразу и удаляет его в хранилище.
// Если удаление не удалось, список возвращается к прежнему виду.
// Вызовы Delete не пересекаются: их сериализует сессия.
func (m *MyAds) Delete(ctx context.Context, id string) error {
	userID, ok := auth.Require(m.identity)
	if !ok {
		return errs.AuthRequired("my_ads.delete")
	}

	var removed models.Listing
	err := m.state.Apply(ctx,
		func(listings []models.Listing) []models.Listing {
			out := listings[:0]
			for _, l := range listings {
				if l.ID != id {
					out = append(out, l)
				}
			}
			return out
		},
		func(ctx context.Context) error {
			m.publish()
			var err error
			removed, err = m.store.Delete(ctx, id, userID)
			return err
		},
	)
	if err != nil {
		m.log.Warn("⚠️ Не удалось удалить объявление, возвращаем в список",
			zap.String("listing_id", id), zap.Error(err))
		m.publish()
		return err
	}

	change := models.ListingChange{
		ListingID: removed.ID,
		Category:  removed.Category,
		UserID:    userID,
		Op:        models.ListingDeleted,
		At:        time.Now(),
	}
	if err := m.publisher.Publish(realtime.SubjectListingsChanged, change); err != nil {
		m.log.Warn("⚠️ Не удалось опубликовать удаление", zap.String("listing_id", id), zap.Error(err))
	}
	return nil
}

func (m *MyAds) publish() []models.Listing {
	return m.publishState(m.state.Get())
}

func (m *MyAds) publishState(listings []models.Listing) []models.Listing {
	m.mu.Lock()
	query := m.query
	m.mu.Unlock()

	visible := searchOwn(listings, query)
	if m.onChange != nil {
		m.onChange(cloneListings(visible))
	}
	return visible
}

func cloneListings(listings []models.Listing) []models.Listing {
	out := make([]models.Listing, len(listings))
	for i, l := range listings {
		out[i] = l.Clone()
	}
	return out
}
