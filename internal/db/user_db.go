package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/flippy-market/internal/errs"
)

// User представляет пользователя в системе
type User struct {
	ID          string    `json:"id"`
	TelegramID  int64     `json:"telegram_id"`
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// DisplayName имя пользователя для заголовков переписки
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// TelegramProfile данные пользователя из initData Telegram
type TelegramProfile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	PhotoURL   string
}

// UserRepository хранилище пользователей
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository создает репозиторий пользователей
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// UpsertTelegramUser создает пользователя при первом входе через Telegram
// или обновляет профиль и время входа существующего
func (r *UserRepository) UpsertTelegramUser(ctx context.Context, p TelegramProfile) (*User, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, telegram_id, username, first_name, last_name, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			avatar_url = EXCLUDED.avatar_url,
			last_login_at = NOW()
		RETURNING id, telegram_id, username, first_name, last_name, avatar_url, created_at, last_login_at
	`, uuid.New().String(), p.TelegramID, p.Username, p.FirstName, p.LastName, p.PhotoURL)

	user, err := scanUser(row)
	if err != nil {
		return nil, errs.Transient("users.upsert", err)
	}
	return user, nil
}

// GetUser получает пользователя по ID
func (r *UserRepository) GetUser(ctx context.Context, id string) (*User, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		SELECT id, telegram_id, username, first_name, last_name, avatar_url, created_at, last_login_at
		FROM users WHERE id = $1
	`, id)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("users.get", "Пользователь не найден")
	}
	if err != nil {
		return nil, errs.Transient("users.get", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.AvatarURL, &u.CreatedAt, &u.LastLoginAt); err != nil {
		return nil, err
	}
	return &u, nil
}
