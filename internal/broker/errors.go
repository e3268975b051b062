package broker

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки брокерской сессии
var (
	// ErrBrokerUnavailable - таймаут или обрыв связи с connectivity-сервисом
	ErrBrokerUnavailable = errors.New("broker session unavailable")

	// ErrSessionClosed - операция над закрытой сессией
	ErrSessionClosed = errors.New("broker session closed")
)

// Коды ошибок connectivity-сервиса, требующие особой обработки
const (
	CodePositionNotFound = "ERR_TRADE_POSITION_NOT_FOUND"
	CodeOrderNotFound    = "ERR_TRADE_ORDER_NOT_FOUND"
)

// Error - ошибка, возвращённая брокерским сервисом
type Error struct {
	Code     string
	Message  string
	Original error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker: %s: %s", e.Code, e.Message)
	}
	return "broker: " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Original
}

// IsNotFound сообщает, означает ли ошибка отсутствие сущности у брокера.
// Такие ошибки при идемпотентных close/cancel проглатываются.
func IsNotFound(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == CodePositionNotFound || be.Code == CodeOrderNotFound
	}
	return false
}

// wrapTimeout переводит истечение контекста в ErrBrokerUnavailable,
// чтобы вызывающий код не зависел от деталей транспорта.
func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return err
}
