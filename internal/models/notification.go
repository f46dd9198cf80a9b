package models

import "time"

// NotificationKind тип письма, которое должен отправить notification-sender.
type NotificationKind string

const (
	NotifyEmailVerification   NotificationKind = "email_verification"
	NotifyPasswordReset       NotificationKind = "password_reset"
	NotifyPasswordChanged     NotificationKind = "password_changed"
	NotifySubscriptionChanged NotificationKind = "subscription_changed"
)

// Notification сообщение в шине уведомлений.
type Notification struct {
	Kind      NotificationKind   `json:"kind"`
	Email     string             `json:"email"`
	Name      string             `json:"name"`
	Link      string             `json:"link,omitempty"`
	Status    SubscriptionStatus `json:"status,omitempty"`
	Plan      string             `json:"plan,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
