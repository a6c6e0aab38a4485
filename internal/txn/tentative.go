// Package txn предварительные изменения локального состояния с откатом.
package txn

import (
	"context"
	"sync"
)

// Tentative хранит состояние, которое меняется сразу, а подтверждается
// удаленной записью. Если запись не удалась, состояние возвращается к снимку,
// снятому перед изменением.
//
// Рассчитан на одного писателя: откат возвращает весь снимок, поэтому
// пересекающиеся Apply могут отменить чужое подтвержденное изменение.
// Вызывающий сериализует Apply сам.
type Tentative[S any] struct {
	mu    sync.Mutex
	state S
	clone func(S) S
}

// New создает хранилище с начальным состоянием и функцией копирования
func New[S any](initial S, clone func(S) S) *Tentative[S] {
	return &Tentative[S]{state: initial, clone: clone}
}

// Get возвращает копию текущего состояния
func (t *Tentative[S]) Get() S {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clone(t.state)
}

// Set заменяет состояние целиком
func (t *Tentative[S]) Set(s S) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Apply применяет mutate к копии состояния, затем вызывает commit.
// При ошибке commit состояние откатывается к снимку и ошибка возвращается.
func (t *Tentative[S]) Apply(ctx context.Context, mutate func(S) S, commit func(context.Context) error) error {
	t.mu.Lock()
	snapshot := t.clone(t.state)
	t.state = mutate(t.clone(t.state))
	t.mu.Unlock()

	if err := commit(ctx); err != nil {
		t.mu.Lock()
		t.state = snapshot
		t.mu.Unlock()
		return err
	}
	return nil
}
