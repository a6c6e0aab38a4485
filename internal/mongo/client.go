// Package mongo удаленное хранилище переписки: чаты и сообщения в MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-market/internal/config"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

// Client подключение к базе переписки
type Client struct {
	client *driver.Client
	db     *driver.Database
}

// Connect подключается к MongoDB и создает индексы
func Connect(ctx context.Context, cfg config.MongoConfig, log *zap.Logger) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := driver.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("ошибка при проверке соединения с MongoDB: %w", err)
	}

	c := &Client{client: cli, db: cli.Database(cfg.Database)}
	if err := c.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}

	log.Info("✅ Успешное подключение к MongoDB", zap.String("database", cfg.Database))
	return c, nil
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	_, err := c.db.Collection(messagesCollection).Indexes().CreateMany(ctx, []driver.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "timestamp", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("ошибка создания индексов сообщений: %w", err)
	}
	_, err = c.db.Collection(chatsCollection).Indexes().CreateMany(ctx, []driver.IndexModel{
		{Keys: bson.D{{Key: "listing_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("ошибка создания индексов чатов: %w", err)
	}
	return nil
}

// Disconnect закрывает соединение
func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
