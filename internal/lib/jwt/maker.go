// Package jwt выпускает и проверяет пары токенов доступа и обновления.
//
// Токен доступа несёт id, email и роль пользователя и проверяется без обращения
// к хранилищу. Токен обновления несёт только id и подписывается отдельным секретом,
// поэтому один вид токена нельзя предъявить вместо другого.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpiredToken срок действия токена истёк.
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidSignature токен повреждён, подписан чужим ключом или не того вида.
	ErrInvalidSignature = errors.New("invalid token signature")
)

// AccessClaims данные токена доступа.
type AccessClaims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims данные токена обновления.
type RefreshClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Maker подписывает и разбирает токены. Безопасен для конкурентного использования.
type Maker struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewMaker создаёт Maker с раздельными секретами и временем жизни для каждого вида токена.
func NewMaker(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Maker {
	return &Maker{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// RefreshTTL время жизни токена обновления, им же ограничивается запись сессии в кэше.
func (m *Maker) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// GenerateAccessToken выпускает токен доступа.
func (m *Maker) GenerateAccessToken(id, email, role string) (string, error) {
	const op = "jwt.GenerateAccessToken"
	claims := AccessClaims{
		UserID:           id,
		Email:            email,
		Role:             role,
		RegisteredClaims: registered(m.accessTTL),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// GenerateRefreshToken выпускает токен обновления.
// jti делает каждый токен уникальным даже внутри одной секунды.
func (m *Maker) GenerateRefreshToken(id string) (string, error) {
	const op = "jwt.GenerateRefreshToken"
	claims := RefreshClaims{
		UserID:           id,
		RegisteredClaims: registered(m.refreshTTL),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// ParseAccessToken проверяет подпись и срок действия токена доступа.
func (m *Maker) ParseAccessToken(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := parse(tokenStr, claims, m.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// ParseRefreshToken проверяет подпись и срок действия токена обновления.
func (m *Maker) ParseRefreshToken(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := parse(tokenStr, claims, m.refreshSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

func registered(ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidSignature
	}
	if !token.Valid {
		return ErrInvalidSignature
	}
	return nil
}
