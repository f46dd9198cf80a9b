// Package securetoken выпускает одноразовые токены для подтверждения email и сброса пароля.
// Клиенту уходит исходное значение, в хранилище попадает только SHA-256 хеш.
package securetoken

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const size = 32

// Generate возвращает случайный токен в hex и его хеш.
func Generate() (raw, hash string, err error) {
	const op = "securetoken.Generate"
	buf := make([]byte, size)
	if _, err = rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	raw = hex.EncodeToString(buf)
	return raw, Hash(raw), nil
}

// Hash возвращает SHA-256 хеш токена в hex.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Matches сравнивает предъявленный токен с сохранённым хешем за постоянное время.
func Matches(raw, storedHash string) bool {
	if raw == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Hash(raw)), []byte(storedHash)) == 1
}
