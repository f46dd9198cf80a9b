// Package storage содержит ошибки, общие для реализаций хранилища
// (MongoDB в mongostore и PostgreSQL в repository).
package storage

import "errors"

var (
	// ErrUserNotFound пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists email или телефон уже заняты.
	ErrUserExists = errors.New("user already exists")
	// ErrSubscriptionNotFound у пользователя нет записей в журнале подписок.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
