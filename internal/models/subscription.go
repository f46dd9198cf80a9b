package models

import "time"

// SubscriptionStatus статус подписки пользователя.
type SubscriptionStatus string

const (
	StatusFree      SubscriptionStatus = "free"
	StatusPremium   SubscriptionStatus = "premium"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
)

// Subscription запись журнала подписок. На пользователя приходится не более одной
// активной записи, завершённые сохраняются для истории.
type Subscription struct {
	ID                       string             `json:"id" bson:"_id"`
	UserID                   string             `json:"userId" bson:"userId"`
	ProviderPlanCode         string             `json:"planCode" bson:"providerPlanCode"`
	ProviderSubscriptionCode string             `json:"subscriptionCode,omitempty" bson:"providerSubscriptionCode,omitempty"`
	ProviderEmailToken       string             `json:"-" bson:"providerEmailToken,omitempty"`
	Status                   SubscriptionStatus `json:"status" bson:"status"`
	Amount                   int64              `json:"amount" bson:"amount"`
	Currency                 string             `json:"currency" bson:"currency"`
	StartDate                time.Time          `json:"startDate" bson:"startDate"`
	NextPaymentDate          *time.Time         `json:"nextPaymentDate,omitempty" bson:"nextPaymentDate,omitempty"`
	CancelledAt              *time.Time         `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	LastEventAt              time.Time          `json:"lastEventAt" bson:"lastEventAt"`
	CreatedAt                time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt                time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// IsActive запись считается активной, пока подписка не отменена.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusPremium || s.Status == StatusPastDue
}

// SubscriptionView снимок и история подписок пользователя для ответов API.
type SubscriptionView struct {
	Current UserSubscription `json:"current"`
	History []*Subscription  `json:"history"`
}
