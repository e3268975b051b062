package utils

import (
	"fmt"
	"strings"
)

// validator.go - валидация и нормализация входных данных заявок

const (
	// MaxCommentLength - терминал обрезает комментарии ордеров
	MaxCommentLength = 10

	// DefaultOrderComment подставляется когда после очистки ничего не осталось
	DefaultOrderComment = "AutoOrder"
)

// ValidateSymbol проверяет формат торгового символа.
//
// Символ должен быть непустым, без пробелов, разумной длины
// (XAUUSD, EURUSD, BTCUSD и т.п.)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if len(symbol) > 32 {
		return fmt.Errorf("symbol too long: %q", symbol)
	}
	for _, r := range symbol {
		if r == ' ' {
			return fmt.Errorf("symbol must not contain spaces: %q", symbol)
		}
	}
	return nil
}

// SanitizeComment очищает пользовательский комментарий для терминала.
//
// Оставляет только буквы, цифры и пробелы, обрезает до MaxCommentLength.
// Пустой результат заменяется на DefaultOrderComment, чтобы у каждого
// ордера был узнаваемый комментарий.
func SanitizeComment(comment string) string {
	var b strings.Builder
	for _, r := range comment {
		if isCommentRune(r) {
			b.WriteRune(r)
		}
		if b.Len() >= MaxCommentLength {
			break
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		return DefaultOrderComment
	}
	return cleaned
}

func isCommentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == ' ':
		return true
	}
	return false
}
