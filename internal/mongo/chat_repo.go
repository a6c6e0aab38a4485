package mongo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
)

// ChatRepository хранилище переписок
type ChatRepository struct {
	chats *driver.Collection
}

// NewChatRepository создает репозиторий переписок
func NewChatRepository(c *Client) *ChatRepository {
	return &ChatRepository{chats: c.db.Collection(chatsCollection)}
}

// FindOrCreate возвращает переписку покупателя по объявлению,
// создавая ее при первом обращении
func (r *ChatRepository) FindOrCreate(ctx context.Context, chat models.Chat) (models.Chat, error) {
	var existing models.Chat
	filter := bson.M{"listing_id": chat.ListingID}
	filter["members."+chat.CreatedBy] = true
	err := r.chats.FindOne(ctx, filter).Decode(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, driver.ErrNoDocuments) {
		return models.Chat{}, errs.Transient("chats.find", err)
	}

	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if _, err := r.chats.InsertOne(ctx, chat); err != nil {
		return models.Chat{}, errs.Transient("chats.create", err)
	}
	return chat, nil
}

// Get возвращает переписку по ID
func (r *ChatRepository) Get(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&chat)
	if errors.Is(err, driver.ErrNoDocuments) {
		return models.Chat{}, errs.NotFound("chats.get", "Чат не найден")
	}
	if err != nil {
		return models.Chat{}, errs.Transient("chats.get", err)
	}
	return chat, nil
}

// ListForUser возвращает переписки пользователя, последние активные первыми
func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	cur, err := r.chats.Find(ctx,
		bson.M{"members." + userID: true},
		options.Find().SetSort(bson.M{"timestamp": -1}))
	if err != nil {
		return nil, errs.Transient("chats.list", err)
	}
	defer cur.Close(ctx)

	chats := []models.Chat{}
	if err := cur.All(ctx, &chats); err != nil {
		return nil, errs.Transient("chats.list", err)
	}
	return chats, nil
}
