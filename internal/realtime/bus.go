// Package realtime шина событий изменений (NATS) и признак связи с ней.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/config"
	"github.com/rajivgeraev/flippy-market/internal/logger"
)

const (
	// SubjectListingsChanged изменения коллекции объявлений
	SubjectListingsChanged = "listings.changed"
)

// ChatSubject тема новых сообщений переписки
func ChatSubject(chatID string) string {
	return "chats." + chatID + ".messages"
}

// Subscription активная подписка на тему
type Subscription interface {
	Unsubscribe() error
}

// Broker публикация и подписка на темы
type Broker interface {
	Publish(subject string, v interface{}) error
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	Connectivity() *Connectivity
}

// Bus Broker поверх NATS
type Bus struct {
	nc   *nats.Conn
	conn *Connectivity
	log  *zap.Logger
}

// Connect подключается к NATS; переподключения бесконечные,
// их ход отражается в Connectivity
func Connect(cfg config.NatsConfig, log *zap.Logger) (*Bus, error) {
	log = logger.OrNop(log)
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("не заданы адреса NATS")
	}
	wait := cfg.ReconnectWait
	if wait == 0 {
		wait = 500 * time.Millisecond
	}

	conn := NewConnectivity(false)
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("⚠️ Потеряно соединение с NATS", zap.Error(err))
			conn.Set(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("🔄 Соединение с NATS восстановлено", zap.String("url", nc.ConnectedUrl()))
			conn.Set(true)
		}),
	}

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS: %w", err)
	}
	conn.Set(nc.IsConnected())

	log.Info("✅ Успешное подключение к NATS", zap.String("url", nc.ConnectedUrl()))
	return &Bus{nc: nc, conn: conn, log: log}, nil
}

// Publish публикует значение в JSON
func (b *Bus) Publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return b.nc.Publish(subject, data)
}

// Subscribe подписывает обработчик на тему
func (b *Bus) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подписки на %s: %w", subject, err)
	}
	return sub, nil
}

// Connectivity признак связи с NATS
func (b *Bus) Connectivity() *Connectivity {
	return b.conn
}

// Close дожидается доставки и закрывает соединение
func (b *Bus) Close() error {
	b.conn.Set(false)
	return b.nc.Drain()
}

// LocalBus Broker внутри процесса: используется, когда NATS не настроен
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte)
	conn   *Connectivity
}

// NewLocalBus создает шину внутри процесса
func NewLocalBus() *LocalBus {
	return &LocalBus{
		subs: make(map[string]map[int]func([]byte)),
		conn: NewConnectivity(true),
	}
}

// Publish синхронно доставляет событие всем подписчикам темы
func (b *LocalBus) Publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// Subscribe подписывает обработчик на тему
func (b *LocalBus) Subscribe(subject string, handler func(data []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func([]byte))
	}
	id := b.nextID
	b.nextID++
	b.subs[subject][id] = handler
	return localSub{bus: b, subject: subject, id: id}, nil
}

// Connectivity признак связи; для локальной шины всегда есть, если не переключить вручную
func (b *LocalBus) Connectivity() *Connectivity {
	return b.conn
}

type localSub struct {
	bus     *LocalBus
	subject string
	id      int
}

func (s localSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.subject], s.id)
	return nil
}
