package bot

import (
	"errors"
	"fmt"
)

// Ошибки торгового ядра.
//
// Валидационные и лимитные ошибки возвращаются синхронно вызывающему
// verify/place. Ошибки реконсиляции наружу не выходят никогда: они
// терминальны для одной корректирующей попытки и только логируются.
var (
	// ErrInvalidStopDistance - стоп-лосс совпадает с рыночной ценой,
	// объём по риску посчитать нельзя
	ErrInvalidStopDistance = errors.New("stop loss distance is zero")

	// ErrDailyRiskExceeded - проектный риск заявки больше остатка
	// дневного бюджета
	ErrDailyRiskExceeded = errors.New("daily risk budget exceeded")

	// ErrCapacityUnavailable - eviction не смог освободить достаточно
	// слотов под новые legs
	ErrCapacityUnavailable = errors.New("position capacity unavailable")

	// ErrAccountNotConnected - операция над счётом без активной сессии
	ErrAccountNotConnected = errors.New("account is not connected")

	// errHistoryPending - история терминала ещё не отразила событие,
	// сканирование нужно повторить
	errHistoryPending = errors.New("history does not reflect the event yet")
)

// ValidationError - ошибка формы запроса.
//
// Field называет первое провалившее проверку поле, Reason - причину.
// Проверки выполняются в фиксированном порядке и падают на первой же.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func newValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError сообщает, является ли ошибка ошибкой валидации запроса
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
