package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/middleware"
	"github.com/rajivgeraev/flippy-market/internal/utils"
)

// Manager представляет центральный менеджер для всех WebSocket соединений
type Manager struct {
	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	userClients  map[string]map[uuid.UUID]bool // userID -> map[clientID]bool
	userMutex    sync.RWMutex
	screens      *Screens
	jwtService   *utils.JWTService
	upgrader     websocket.Upgrader
	log          *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
}

// EventType определяет тип события WebSocket
type EventType string

const (
	EventConnected    EventType = "connected"
	EventFeedView     EventType = "feed.view"
	EventChatSnapshot EventType = "chat.snapshot"
	EventMessageSent  EventType = "chat.sent"
	EventMyAds        EventType = "my_ads.listings"
	EventError        EventType = "error"
)

// Event представляет структуру сообщения для WebSocket
type Event struct {
	Type         EventType       `json:"type"`
	Screen       string          `json:"screen,omitempty"`
	ChatID       string          `json:"chat_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Disconnected bool            `json:"disconnected,omitempty"`
	Error        string          `json:"error,omitempty"`
	Kind         string          `json:"kind,omitempty"`
}

func newEvent(t EventType, screen, chatID string, payload interface{}) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Ошибка сериализации события", zap.String("type", string(t)), zap.Error(err))
	}
	return Event{Type: t, Screen: screen, ChatID: chatID, Payload: data}
}

// NewManager создает новый экземпляр Manager
func NewManager(screens *Screens, jwtService *utils.JWTService, log *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[string]map[uuid.UUID]bool),
		screens:     screens,
		jwtService:  jwtService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:    logger.OrNop(log).Named("ws"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP авторизует соединение по токену и поднимает WebSocket
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	userID, err := middleware.UserFromToken(m.jwtService, token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("⚠️ Не удалось открыть WebSocket", zap.Error(err))
		return
	}

	client := NewClient(userID, conn, m)
	client.Start()
}

// AddClient регистрирует нового клиента
func (m *Manager) AddClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.ID] = client
	m.clientsMutex.Unlock()

	// Связываем клиент с пользователем
	m.userMutex.Lock()
	if _, exists := m.userClients[client.UserID]; !exists {
		m.userClients[client.UserID] = make(map[uuid.UUID]bool)
	}
	m.userClients[client.UserID][client.ID] = true
	m.userMutex.Unlock()

	m.log.Info("WebSocket клиент подключен", zap.Stringer("client_id", client.ID), zap.String("user_id", client.UserID))
}

// RemoveClient удаляет клиента
func (m *Manager) RemoveClient(clientID uuid.UUID) {
	m.clientsMutex.Lock()
	client, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.clientsMutex.Unlock()

	if !exists {
		return
	}

	userID := client.UserID

	// Удаляем клиент из связи с пользователем
	m.userMutex.Lock()
	if clients, ok := m.userClients[userID]; ok {
		delete(clients, clientID)
		// Если это был последний клиент пользователя, удаляем запись пользователя
		if len(clients) == 0 {
			delete(m.userClients, userID)
		}
	}
	m.userMutex.Unlock()

	m.log.Info("WebSocket клиент отключен", zap.Stringer("client_id", clientID), zap.String("user_id", userID))
}

// Online количество соединений пользователя
func (m *Manager) Online(userID string) int {
	m.userMutex.RLock()
	defer m.userMutex.RUnlock()
	return len(m.userClients[userID])
}

// Shutdown корректно завершает работу менеджера WebSocket.
// Закрытие соединения завершает readPump, который закрывает экраны сессии.
func (m *Manager) Shutdown() {
	m.cancel()

	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.RUnlock()

	for _, client := range clients {
		client.conn.Close()
		<-client.closeChan
	}
}
