// Package password реализует хеширование и проверку паролей через bcrypt.
//
// Hasher хранит заранее вычисленный фиктивный хеш той же стоимости, чтобы
// вход с несуществующим email тратил столько же времени, сколько вход с неверным паролем.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch пароль не соответствует хешу.
var ErrMismatch = errors.New("password mismatch")

// Hasher хеширует пароли с настраиваемой стоимостью bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

// New создаёт Hasher. Стоимость вне допустимого диапазона заменяется на bcrypt.DefaultCost.
func New(cost int) (*Hasher, error) {
	const op = "password.New"
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Cost текущая стоимость bcrypt.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash возвращает bcrypt-хеш пароля.
func (h *Hasher) Hash(raw string) (string, error) {
	const op = "password.Hash"
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashed), nil
}

// Compare сравнивает хеш с введённым паролем.
// Возвращает ErrMismatch, если пароль не подходит.
func (h *Hasher) Compare(hash, raw string) error {
	const op = "password.Compare"
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CompareDummy выполняет сравнение с фиктивным хешем и всегда возвращает ErrMismatch.
func (h *Hasher) CompareDummy(raw string) error {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(raw))
	return ErrMismatch
}
