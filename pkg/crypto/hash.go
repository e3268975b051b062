package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptySecret    = errors.New("secret cannot be empty")
	ErrSecretMismatch = errors.New("secret does not match hash")
	ErrInvalidHash    = errors.New("invalid secret hash format")
	ErrSecretTooLong  = errors.New("secret exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxSecretLength - максимальная длина секрета для bcrypt (72 байта)
const MaxSecretLength = 72

// HashSecret хеширует API-ключ с использованием bcrypt
// Автоматически генерирует криптографически стойкий salt
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	// bcrypt ограничен 72 байтами
	if len(secret) > MaxSecretLength {
		return "", ErrSecretTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifySecret проверяет соответствие секрета хешу
// Использует constant-time comparison для защиты от timing attacks
func VerifySecret(secret, hash string) error {
	if secret == "" {
		return ErrEmptySecret
	}

	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrSecretMismatch
		}
		return ErrInvalidHash
	}

	return nil
}

// CheckSecretMatch проверяет соответствие секрета хешу и возвращает bool
func CheckSecretMatch(secret, hash string) bool {
	return VerifySecret(secret, hash) == nil
}
