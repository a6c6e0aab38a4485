package chat

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rajivgeraev/flippy-market/internal/auth"
	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
)

var validate = validator.New()

// Draft черновик сообщения: ровно одно из полей текст или картинка
type Draft struct {
	Text     string `json:"text" validate:"required_without=ImageURL,excluded_with=ImageURL"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
}

// Appender запись сообщения в удаленную ленту
type Appender interface {
	Append(ctx context.Context, chatID string, msg models.Message) error
}

// Send проверяет черновик и записывает сообщение в ленту.
// Без пользователя и при некорректном черновике запись не выполняется.
func Send(ctx context.Context, feed Appender, identity auth.Identity, chatID string, draft Draft, now func() time.Time) (models.Message, error) {
	userID, ok := auth.Require(identity)
	if !ok {
		return models.Message{}, errs.AuthRequired("chat.send")
	}

	draft.Text = strings.TrimSpace(draft.Text)
	draft.ImageURL = strings.TrimSpace(draft.ImageURL)
	if err := validate.Struct(draft); err != nil {
		return models.Message{}, draftError(err)
	}

	if now == nil {
		now = time.Now
	}
	msg := models.Message{
		Text:      draft.Text,
		ImageURL:  draft.ImageURL,
		Sender:    userID,
		Timestamp: now().UnixMilli(),
		Unread:    true,
	}
	if err := feed.Append(ctx, chatID, msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func draftError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errs.Validation("chat.send", "", "Некорректное сообщение")
	}
	switch fe := verrs[0]; {
	case fe.Field() == "ImageURL":
		return errs.Validation("chat.send", "imageUrl", "Некорректная ссылка на изображение")
	case fe.Tag() == "excluded_with":
		return errs.Validation("chat.send", "text", "Сообщение содержит и текст, и изображение")
	default:
		return errs.Validation("chat.send", "text", "Текст сообщения не может быть пустым")
	}
}
