// Package apperr задаёт закрытый набор видов доменных ошибок и их HTTP-статусы.
//
// Сервисы возвращают *Error, обработчики переводят вид ошибки в код ответа
// через HTTPStatus. Всё, что не является *Error, считается внутренней ошибкой.
package apperr

import (
	"errors"
	"net/http"
)

// Kind вид доменной ошибки.
type Kind int

const (
	// Internal непредвиденная ошибка, детали не раскрываются клиенту.
	Internal Kind = iota
	// Validation некорректный ввод.
	Validation
	// Authentication неверные учётные данные или токен.
	Authentication
	// Authorization недостаточно прав.
	Authorization
	// NotFound сущность не найдена.
	NotFound
	// Conflict нарушение уникальности.
	Conflict
	// Signature подпись вебхука не прошла проверку.
	Signature
	// Upstream ошибка внешнего платёжного шлюза.
	Upstream
	// IdempotentNoop повторная доставка уже обработанного события.
	IdempotentNoop
)

var kindNames = map[Kind]string{
	Internal:       "internal",
	Validation:     "validation",
	Authentication: "authentication",
	Authorization:  "authorization",
	NotFound:       "not_found",
	Conflict:       "conflict",
	Signature:      "signature",
	Upstream:       "upstream",
	IdempotentNoop: "idempotent_noop",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error доменная ошибка. Msg безопасно отдавать клиенту, Err остаётся в логах.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New создаёт ошибку заданного вида.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap создаёт ошибку заданного вида поверх причины.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf возвращает вид ошибки из цепочки или Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is сообщает, содержит ли цепочка ошибку вида kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Message возвращает текст для клиента. Для внутренних ошибок он обобщён.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus переводит вид ошибки в HTTP-статус.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation, Signature:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Upstream:
		return http.StatusBadGateway
	case IdempotentNoop:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
