package mongo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/logger"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
)

// messageDoc документ сообщения в коллекции messages
type messageDoc struct {
	ChatID         string `bson:"chat_id"`
	models.Message `bson:",inline"`
}

// MessageFeed удаленная лента сообщений: история в MongoDB,
// уведомления о новых сообщениях через шину
type MessageFeed struct {
	messages *driver.Collection
	chats    *driver.Collection
	broker   realtime.Broker
	log      *zap.Logger
}

// NewMessageFeed создает ленту сообщений
func NewMessageFeed(c *Client, broker realtime.Broker, log *zap.Logger) *MessageFeed {
	return &MessageFeed{
		messages: c.db.Collection(messagesCollection),
		chats:    c.db.Collection(chatsCollection),
		broker:   broker,
		log:      logger.OrNop(log).Named("message_feed"),
	}
}

// Since возвращает сообщения переписки с timestamp > after по возрастанию
func (f *MessageFeed) Since(ctx context.Context, chatID string, after int64) ([]models.Message, error) {
	cur, err := f.messages.Find(ctx,
		bson.M{"chat_id": chatID, "timestamp": bson.M{"$gt": after}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errs.Transient("messages.since", err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.Transient("messages.since", err)
	}
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Message)
	}
	return out, nil
}

// Append сохраняет сообщение, обновляет переписку и уведомляет подписчиков
func (f *MessageFeed) Append(ctx context.Context, chatID string, msg models.Message) error {
	if _, err := f.messages.InsertOne(ctx, messageDoc{ChatID: chatID, Message: msg}); err != nil {
		return errs.Transient("messages.append", err)
	}
	_, err := f.chats.UpdateOne(ctx,
		bson.M{"_id": chatID},
		bson.M{"$set": bson.M{"timestamp": msg.Timestamp, "unread": true}})
	if err != nil {
		return errs.Transient("chats.touch", err)
	}
	if err := f.broker.Publish(realtime.ChatSubject(chatID), msg); err != nil {
		// Сообщение уже сохранено: подписчики получат его при следующей догрузке
		f.log.Warn("⚠️ Не удалось опубликовать сообщение", zap.String("chat_id", chatID), zap.Error(err))
	}
	return nil
}

// MarkRead снимает флаг непрочитанного с сообщения и переписки
func (f *MessageFeed) MarkRead(ctx context.Context, chatID string, key models.MessageKey) error {
	_, err := f.messages.UpdateOne(ctx,
		bson.M{"chat_id": chatID, "timestamp": key.Timestamp, "sender": key.Sender},
		bson.M{"$set": bson.M{"unread": false}})
	if err != nil {
		return errs.Transient("messages.mark_read", err)
	}
	_, err = f.chats.UpdateOne(ctx,
		bson.M{"_id": chatID},
		bson.M{"$set": bson.M{"unread": false}})
	if err != nil {
		return errs.Transient("chats.mark_read", err)
	}
	return nil
}

// Subscribe подписывается на новые сообщения переписки.
// После восстановления связи недостающие сообщения догружаются из истории,
// поэтому onAppend может получить сообщение повторно.
func (f *MessageFeed) Subscribe(ctx context.Context, chatID string, onAppend func(models.Message), onErr func(error)) (realtime.Subscription, error) {
	newest, err := f.newestTimestamp(ctx, chatID)
	if err != nil {
		return nil, err
	}

	s := &feedSubscription{feed: f, chatID: chatID, last: newest, onAppend: onAppend, onErr: onErr}
	sub, err := f.broker.Subscribe(realtime.ChatSubject(chatID), s.handle)
	if err != nil {
		return nil, errs.Transient("messages.subscribe", err)
	}
	s.sub = sub
	s.unwatch = f.broker.Connectivity().Watch(s.connectivityChanged)
	return s, nil
}

func (f *MessageFeed) newestTimestamp(ctx context.Context, chatID string) (int64, error) {
	var doc messageDoc
	err := f.messages.FindOne(ctx,
		bson.M{"chat_id": chatID},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&doc)
	if err == driver.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Transient("messages.newest", err)
	}
	return doc.Timestamp, nil
}

type feedSubscription struct {
	feed     *MessageFeed
	chatID   string
	onAppend func(models.Message)
	onErr    func(error)
	sub      realtime.Subscription
	unwatch  func()

	mu     sync.Mutex
	last   int64
	closed bool
}

func (s *feedSubscription) handle(data []byte) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.feed.log.Warn("⚠️ Некорректное событие сообщения", zap.String("chat_id", s.chatID), zap.Error(err))
		return
	}
	s.deliver(msg)
}

func (s *feedSubscription) deliver(msg models.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if msg.Timestamp > s.last {
		s.last = msg.Timestamp
	}
	s.mu.Unlock()
	s.onAppend(msg)
}

func (s *feedSubscription) connectivityChanged(connected bool) {
	s.mu.Lock()
	closed, last := s.closed, s.last
	s.mu.Unlock()
	if closed {
		return
	}

	if !connected {
		s.onErr(errs.Transient("messages.subscribe", errDisconnected))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		missed, err := s.feed.Since(ctx, s.chatID, last)
		if err != nil {
			s.onErr(err)
			return
		}
		for _, msg := range missed {
			s.deliver(msg)
		}
	}()
}

// Unsubscribe закрывает подписку; поздние события игнорируются
func (s *feedSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.unwatch()
	return s.sub.Unsubscribe()
}

type feedError string

func (e feedError) Error() string { return string(e) }

const errDisconnected = feedError("нет соединения с шиной сообщений")
