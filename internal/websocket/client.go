package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Максимальное время ожидания для pong от клиента
	pongWait = 60 * time.Second

	// Отправлять ping-сообщения клиенту с этим интервалом
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер сообщения от клиента
	maxMessageSize = 512 * 1024 // 512KB

	// Размер буфера для отправляемых сообщений
	writeBufferSize = 256

	writeWait = 10 * time.Second
)

// Client представляет собой отдельное WebSocket соединение
type Client struct {
	ID        uuid.UUID
	UserID    string
	conn      *websocket.Conn
	send      chan []byte // Буферизованный канал исходящих сообщений
	manager   *Manager
	session   *Session
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient создает новый экземпляр Client
func NewClient(userID string, conn *websocket.Conn, manager *Manager) *Client {
	c := &Client{
		ID:        uuid.New(),
		UserID:    userID,
		conn:      conn,
		send:      make(chan []byte, writeBufferSize),
		manager:   manager,
		closeChan: make(chan struct{}),
	}
	c.session = NewSession(userID, manager.screens, c.enqueue, manager.log)
	return c
}

// Start запускает клиентские горутины для чтения и записи
func (c *Client) Start() {
	// Добавляем клиент к менеджеру
	c.manager.AddClient(c)
	c.enqueue(Event{Type: EventConnected, UserID: c.UserID})

	// Запускаем горутины для чтения и записи
	go c.readPump()
	go c.writePump()
}

// enqueue ставит событие в очередь отправки, не блокируя источник
func (c *Client) enqueue(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		c.manager.log.Error("Ошибка сериализации события", zap.Error(err))
		return
	}

	select {
	case <-c.closeChan:
	case c.send <- data:
	default:
		// Канал заполнен, клиент слишком медленный - закрываем соединение
		c.manager.log.Warn("⚠️ Очередь отправки переполнена, закрываем соединение", zap.Stringer("client_id", c.ID))
		c.conn.Close()
	}
}

// readPump обрабатывает входящие команды от клиента.
// На любом выходе закрывает экраны сессии.
func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		c.manager.RemoveClient(c.ID)
		c.conn.Close()
		c.closeOnce.Do(func() { close(c.closeChan) })
	}()

	// Настраиваем соединение
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Бесконечный цикл чтения сообщений
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.log.Warn("Неожиданное закрытие соединения", zap.Error(err))
			}
			break
		}

		c.session.Handle(c.manager.ctx, message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.manager.log.Debug("Ошибка записи в соединение", zap.Error(err))
				return
			}
		case <-ticker.C:
			// Отправляем ping для поддержания соединения
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
