package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/db"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
	"github.com/rajivgeraev/flippy-market/internal/services/listing"
)

// memListings хранилище объявлений для коллекции и экрана своих объявлений
type memListings struct {
	mu   sync.Mutex
	byID map[string]models.Listing
}

func newMemListings(ls ...models.Listing) *memListings {
	m := &memListings{byID: map[string]models.Listing{}}
	for _, l := range ls {
		m.byID[l.ID] = l
	}
	return m
}

func (m *memListings) List(_ context.Context, q db.ListingQuery) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Listing
	for _, l := range m.byID {
		if q.Category != "" && l.Category != q.Category {
			continue
		}
		if q.UserID != "" && l.UserID != q.UserID {
			continue
		}
		out = append(out, l)
	}
	listing.SortNewestFirst(out)
	return out, nil
}

func (m *memListings) Delete(_ context.Context, id, userID string) (models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byID[id]
	if !ok {
		return models.Listing{}, errs.NotFound("listings.delete", "Объявление не найдено")
	}
	if l.UserID != userID {
		return models.Listing{}, errs.Forbidden("listings.delete", "Нет доступа")
	}
	delete(m.byID, id)
	return l, nil
}

func (m *memListings) put(l models.Listing) {
	m.mu.Lock()
	m.byID[l.ID] = l
	m.mu.Unlock()
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

// memFeed лента сообщений поверх локальной шины
type memFeed struct {
	mu       sync.Mutex
	bus      *realtime.LocalBus
	messages map[string][]models.Message
	subs     int
}

func (f *memFeed) Since(_ context.Context, chatID string, after int64) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages[chatID] {
		if m.Timestamp > after {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *memFeed) Subscribe(_ context.Context, chatID string, onAppend func(models.Message), _ func(error)) (realtime.Subscription, error) {
	sub, err := f.bus.Subscribe(realtime.ChatSubject(chatID), func(data []byte) {
		var m models.Message
		if json.Unmarshal(data, &m) == nil {
			onAppend(m)
		}
	})
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.subs++
	f.mu.Unlock()
	return &countedSub{Subscription: sub, feed: f}, nil
}

func (f *memFeed) Append(_ context.Context, chatID string, m models.Message) error {
	f.mu.Lock()
	f.messages[chatID] = append(f.messages[chatID], m)
	f.mu.Unlock()
	return f.bus.Publish(realtime.ChatSubject(chatID), m)
}

func (f *memFeed) MarkRead(_ context.Context, chatID string, key models.MessageKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.messages[chatID] {
		if m.Key() == key {
			f.messages[chatID][i].Unread = false
		}
	}
	return nil
}

func (f *memFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

type countedSub struct {
	realtime.Subscription
	feed *memFeed
}

func (s *countedSub) Unsubscribe() error {
	s.feed.mu.Lock()
	s.feed.subs--
	s.feed.mu.Unlock()
	return s.Subscription.Unsubscribe()
}

// memAccess список участников переписок
type memAccess map[string][]string

func (a memAccess) Authorize(_ context.Context, id auth.Identity, chatID string) error {
	userID, ok := auth.Require(id)
	if !ok {
		return errs.AuthRequired("chat.open")
	}
	for _, m := range a[chatID] {
		if m == userID {
			return nil
		}
	}
	return errs.Forbidden("chat.open", "У вас нет доступа к этому чату")
}

// recorder собирает события, отправленные клиенту
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// waitFor ждет событие, подходящее под условие
func (r *recorder) waitFor(t *testing.T, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for i := len(r.events) - 1; i >= 0; i-- {
			if match(r.events[i]) {
				e := r.events[i]
				r.mu.Unlock()
				return e
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q not received", what)
	return Event{}
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type env struct {
	bus      *realtime.LocalBus
	listings *memListings
	feed     *memFeed
	cache    *memCache
	screens  *Screens
}

func newEnv(ls ...models.Listing) *env {
	bus := realtime.NewLocalBus()
	e := &env{
		bus:      bus,
		listings: newMemListings(ls...),
		feed:     &memFeed{bus: bus, messages: map[string][]models.Message{}},
		cache:    &memCache{data: map[string][]byte{}},
	}
	e.screens = &Screens{
		Listings:     listing.NewBusCollection(e.listings, bus, nil),
		Owner:        e.listings,
		Publisher:    bus,
		Cache:        e.cache,
		Feed:         e.feed,
		Connectivity: bus.Connectivity(),
		Access:       memAccess{"c1": {"buyer", "seller"}},
	}
	return e
}

func payloadListings(t *testing.T, e Event) []models.Listing {
	t.Helper()
	var v struct {
		Listings []models.Listing `json:"listings"`
	}
	if len(e.Payload) > 0 && e.Payload[0] == '[' {
		var out []models.Listing
		if err := json.Unmarshal(e.Payload, &out); err != nil {
			t.Fatalf("payload: %v", err)
		}
		return out
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return v.Listings
}

func payloadMessages(t *testing.T, e Event) []models.Message {
	t.Helper()
	var v struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return v.Messages
}
