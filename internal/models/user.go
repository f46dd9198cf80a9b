// Package models содержит доменные модели пользователя, записи журнала подписок
// и уведомлений. Структуры используются бизнес-логикой и обоими хранилищами.
package models

import (
	"strings"
	"time"
	"unicode"
)

// Role роль пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleChef  Role = "chef"
	RoleAdmin Role = "admin"
)

// Valid сообщает, входит ли роль в допустимый набор.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleChef, RoleAdmin:
		return true
	}
	return false
}

// UserSubscription снимок подписки, хранящийся прямо в пользователе.
// Статус всегда совпадает со статусом последнего применённого перехода в журнале.
type UserSubscription struct {
	Status        SubscriptionStatus `json:"status" bson:"status"`
	Plan          string             `json:"plan,omitempty" bson:"plan,omitempty"`
	StartDate     *time.Time         `json:"startDate,omitempty" bson:"startDate,omitempty"`
	EndDate       *time.Time         `json:"endDate,omitempty" bson:"endDate,omitempty"`
	PaymentMethod string             `json:"paymentMethod,omitempty" bson:"paymentMethod,omitempty"`
	AutoRenew     bool               `json:"autoRenew" bson:"autoRenew"`
}

// User зарегистрированный пользователь.
type User struct {
	ID                    string           `json:"id" bson:"_id"`
	Email                 string           `json:"email" bson:"email"`
	Phone                 string           `json:"phone,omitempty" bson:"phone,omitempty"`
	Name                  string           `json:"name" bson:"name"`
	PasswordHash          string           `json:"-" bson:"passwordHash"`
	Role                  Role             `json:"role" bson:"role"`
	Subscription          UserSubscription `json:"subscription" bson:"subscription"`
	EmailVerified         bool             `json:"emailVerified" bson:"emailVerified"`
	VerificationTokenHash string           `json:"-" bson:"verificationTokenHash,omitempty"`
	VerificationExpiresAt *time.Time       `json:"-" bson:"verificationExpiresAt,omitempty"`
	ResetTokenHash        string           `json:"-" bson:"resetTokenHash,omitempty"`
	ResetExpiresAt        *time.Time       `json:"-" bson:"resetExpiresAt,omitempty"`
	ProviderCustomerCode  string           `json:"-" bson:"providerCustomerCode,omitempty"`
	IsActive              bool             `json:"isActive" bson:"isActive"`
	LastActive            *time.Time       `json:"lastActive,omitempty" bson:"lastActive,omitempty"`
	CreatedAt             time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt" bson:"updatedAt"`
}

// NormalizeEmail приводит email к каноническому виду.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone оставляет в номере только цифры и ведущий плюс.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize применяет нормализацию ко всем полям, участвующим в уникальных индексах.
// Вызывается перед каждой записью пользователя.
func (u *User) Normalize() {
	u.Email = NormalizeEmail(u.Email)
	u.Phone = NormalizePhone(u.Phone)
	u.Name = strings.TrimSpace(u.Name)
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Subscription.Status == "" {
		u.Subscription.Status = StatusFree
	}
}

// IsPremium вычисляется при чтении: доступ к премиум-функциям есть
// у активной и у просроченной в пределах льготного периода подписки.
func (u *User) IsPremium() bool {
	return u.Subscription.Status == StatusPremium || u.Subscription.Status == StatusPastDue
}

// PublicUser представление пользователя для ответов API.
type PublicUser struct {
	ID            string           `json:"id"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone,omitempty"`
	Name          string           `json:"name"`
	Role          Role             `json:"role"`
	EmailVerified bool             `json:"emailVerified"`
	IsPremium     bool             `json:"isPremium"`
	Subscription  UserSubscription `json:"subscription"`
}

// Public возвращает представление без секретных полей.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Phone:         u.Phone,
		Name:          u.Name,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		IsPremium:     u.IsPremium(),
		Subscription:  u.Subscription,
	}
}
