package listing

import (
	"context"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
)

// fakeRemote коллекция, которую тест двигает вручную
type fakeRemote struct {
	mu      sync.Mutex
	subs    []*fakeSub
	failing error
}

type fakeSub struct {
	scope      Scope
	onSnapshot func(Snapshot)
	onErr      func(error)
	closed     bool
}

func (s *fakeSub) Unsubscribe() error {
	s.closed = true
	return nil
}

func (r *fakeRemote) Subscribe(_ context.Context, scope Scope, onSnapshot func(Snapshot), onErr func(error)) (realtime.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing != nil {
		return nil, r.failing
	}
	sub := &fakeSub{scope: scope, onSnapshot: onSnapshot, onErr: onErr}
	r.subs = append(r.subs, sub)
	return sub, nil
}

func (r *fakeRemote) last() *fakeSub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[len(r.subs)-1]
}

// memStore хранилище объявлений в памяти
type memStore struct {
	mu        sync.Mutex
	listings  map[string]models.Listing
	deleteErr error
	listErr   error
}

func newMemStore(listings ...models.Listing) *memStore {
	s := &memStore{listings: map[string]models.Listing{}}
	for _, l := range listings {
		s.listings[l.ID] = l
	}
	return s
}

func (s *memStore) List(_ context.Context, q db.ListingQuery) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Listing
	for _, l := range s.listings {
		if q.Category != "" && l.Category != q.Category {
			continue
		}
		if q.UserID != "" && l.UserID != q.UserID {
			continue
		}
		out = append(out, l)
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *memStore) Get(_ context.Context, id string) (models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return models.Listing{}, errs.NotFound("listings.get", "Объявление не найдено")
	}
	return l, nil
}

func (s *memStore) Create(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = *l
	return nil
}

func (s *memStore) Update(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = *l
	return nil
}

func (s *memStore) Delete(_ context.Context, id, userID string) (models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return models.Listing{}, s.deleteErr
	}
	l, ok := s.listings[id]
	if !ok {
		return models.Listing{}, errs.NotFound("listings.delete", "Объявление не найдено")
	}
	if l.UserID != userID {
		return models.Listing{}, errs.Forbidden("listings.delete", "нет доступа")
	}
	delete(s.listings, id)
	return l, nil
}

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *recordingPublisher) Publish(_ string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, v)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func asErr(err error, target **errs.Error) bool {
	return pkgerrors.As(err, target)
}
