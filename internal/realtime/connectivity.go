package realtime

import "sync"

// Connectivity наблюдаемый признак связи с удаленным источником
type Connectivity struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	watchers  map[int]func(bool)
}

// NewConnectivity создает наблюдатель с начальным состоянием
func NewConnectivity(connected bool) *Connectivity {
	return &Connectivity{connected: connected, watchers: make(map[int]func(bool))}
}

// Connected текущее состояние связи
func (c *Connectivity) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Watch подписывает fn на смену состояния; возвращает функцию отписки
func (c *Connectivity) Watch(fn func(bool)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

// Set меняет состояние и уведомляет подписчиков, если оно изменилось.
// Подписчики вызываются вне блокировки.
func (c *Connectivity) Set(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	fns := make([]func(bool), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}
