package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
)

// memStore локальное хранилище в памяти с управляемыми сбоями
type memStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	getErr   error
	setErr   error
	setCalls int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) failWrites(err error) {
	s.mu.Lock()
	s.setErr = err
	s.mu.Unlock()
}

// fakeFeed удаленная лента, которую тест двигает вручную
type fakeFeed struct {
	mu         sync.Mutex
	batch      []models.Message
	sinceErr   error
	subErr     error
	appendErr  error
	markErr    error
	afterSub   func(f *fakeFeed)
	sinceAfter int64
	appended   []models.Message
	marked     []models.MessageKey
	subs       []*fakeSub
}

type fakeSub struct {
	onAppend func(models.Message)
	onErr    func(error)
	closed   bool
}

func (s *fakeSub) Unsubscribe() error {
	s.closed = true
	return nil
}

func (f *fakeFeed) Since(_ context.Context, _ string, after int64) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceAfter = after
	if f.sinceErr != nil {
		return nil, f.sinceErr
	}
	return append([]models.Message(nil), f.batch...), nil
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string, onAppend func(models.Message), onErr func(error)) (realtime.Subscription, error) {
	f.mu.Lock()
	if f.subErr != nil {
		f.mu.Unlock()
		return nil, f.subErr
	}
	sub := &fakeSub{onAppend: onAppend, onErr: onErr}
	f.subs = append(f.subs, sub)
	hook := f.afterSub
	f.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return sub, nil
}

func (f *fakeFeed) Append(_ context.Context, _ string, m models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, m)
	return nil
}

func (f *fakeFeed) MarkRead(_ context.Context, _ string, key models.MessageKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, key)
	return nil
}

// setSince меняет ответ догрузки
func (f *fakeFeed) setSince(err error, batch ...models.Message) {
	f.mu.Lock()
	f.sinceErr = err
	f.batch = batch
	f.mu.Unlock()
}

func (f *fakeFeed) lastSinceAfter() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinceAfter
}

// deliver отправляет событие в последнюю подписку
func (f *fakeFeed) deliver(m models.Message) {
	f.mu.Lock()
	sub := f.subs[len(f.subs)-1]
	f.mu.Unlock()
	sub.onAppend(m)
}

func (f *fakeFeed) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeFeed) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

var errBoom = errors.New("boom")
