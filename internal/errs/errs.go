// Package errs описывает виды ошибок ядра синхронизации.
// Компоненты возвращают вид через значение ошибки, а не паникой;
// HTTP-слой переводит вид в статус ответа.
package errs

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/pkg/errors"
)

// Kind вид ошибки
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindTransient подписка или запрос временно недоступны, локальное состояние не трогаем
	KindTransient
	// KindPersistence ошибка локального хранилища, не фатальна
	KindPersistence
	// KindValidation данные отклонены до любой записи
	KindValidation
	// KindAuthRequired изменяющая операция без текущего пользователя
	KindAuthRequired
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPersistence:
		return "persistence"
	case KindValidation:
		return "validation"
	case KindAuthRequired:
		return "auth_required"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error ошибка с видом, операцией и исходной причиной
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Field string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrAuthRequired сентинел для операций без сессии
var ErrAuthRequired = &Error{Kind: KindAuthRequired, Msg: "требуется авторизация"}

// E оборачивает причину в ошибку заданного вида со стеком вызова
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Op: op, Err: err})
}

// Transient ошибка удаленного источника
func Transient(op string, err error) error { return E(KindTransient, op, err) }

// Persistence ошибка локального хранилища
func Persistence(op string, err error) error { return E(KindPersistence, op, err) }

// Validation ошибка входных данных
func Validation(op, field, msg string) error {
	return errors.WithStack(&Error{Kind: KindValidation, Op: op, Field: field, Msg: msg})
}

// NotFound ресурс не найден
func NotFound(op, msg string) error {
	return errors.WithStack(&Error{Kind: KindNotFound, Op: op, Msg: msg})
}

// Forbidden нет доступа к ресурсу
func Forbidden(op, msg string) error {
	return errors.WithStack(&Error{Kind: KindForbidden, Op: op, Msg: msg})
}

// AuthRequired операция требует пользователя
func AuthRequired(op string) error {
	return errors.WithStack(&Error{Kind: KindAuthRequired, Op: op, Msg: ErrAuthRequired.Msg})
}

// KindOf достает вид ошибки из цепочки
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is проверяет вид ошибки
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Status переводит вид ошибки в HTTP статус
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindAuthRequired:
		return fiber.StatusUnauthorized
	case KindForbidden:
		return fiber.StatusForbidden
	case KindNotFound:
		return fiber.StatusNotFound
	case KindTransient:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// Message текст ошибки для клиента
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "Внутренняя ошибка сервера"
}

// Respond отправляет ошибку клиенту в формате {"error": "..."}
func Respond(c fiber.Ctx, err error) error {
	body := fiber.Map{"error": Message(err)}
	var e *Error
	if errors.As(err, &e) && e.Field != "" {
		body["field"] = e.Field
	}
	return c.Status(Status(err)).JSON(body)
}
