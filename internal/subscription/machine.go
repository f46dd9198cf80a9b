// Package subscription содержит конечный автомат статусов подписки.
//
// Next единственное место, где решается смена статуса. Apply по текущему снимку
// пользователя и последней записи журнала вычисляет, что нужно сохранить,
// и не выполняет ввода-вывода.
package subscription

import (
	"time"

	"github.com/magabrotheeeer/mealplan/internal/models"
)

// Event событие, влияющее на статус подписки.
type Event string

const (
	ChargeSucceeded      Event = "charge_succeeded"
	PaymentFailed        Event = "payment_failed"
	SubscriptionDisabled Event = "subscription_disabled"
	UserCancelled        Event = "user_cancelled"
	GracePeriodExpired   Event = "grace_period_expired"
	// TermsUpdated меняет только условия активной записи, статус не трогает.
	TermsUpdated Event = "terms_updated"
)

var transitions = map[models.SubscriptionStatus]map[Event]models.SubscriptionStatus{
	models.StatusFree: {
		ChargeSucceeded: models.StatusPremium,
	},
	models.StatusPremium: {
		SubscriptionDisabled: models.StatusCancelled,
		UserCancelled:        models.StatusCancelled,
		PaymentFailed:        models.StatusPastDue,
	},
	models.StatusPastDue: {
		ChargeSucceeded:      models.StatusPremium,
		SubscriptionDisabled: models.StatusCancelled,
		GracePeriodExpired:   models.StatusCancelled,
	},
	models.StatusCancelled: {
		ChargeSucceeded: models.StatusPremium,
	},
}

// Next возвращает новый статус и true, если пара (from, ev) задаёт переход.
// Для остальных пар возвращается from и false.
func Next(from models.SubscriptionStatus, ev Event) (models.SubscriptionStatus, bool) {
	if from == "" {
		from = models.StatusFree
	}
	to, ok := transitions[from][ev]
	if !ok {
		return from, false
	}
	return to, true
}

// Terms условия подписки, пришедшие вместе с событием. Пустые поля не меняют запись.
type Terms struct {
	PlanCode         string
	SubscriptionCode string
	EmailToken       string
	Amount           int64
	Currency         string
	PaymentMethod    string
	NextPaymentDate  *time.Time
	AutoRenew        *bool
}

func (t Terms) empty() bool {
	return t.PlanCode == "" && t.SubscriptionCode == "" && t.EmailToken == "" &&
		t.Amount == 0 && t.Currency == "" && t.PaymentMethod == "" &&
		t.NextPaymentDate == nil && t.AutoRenew == nil
}

// Input всё, что нужно для вычисления перехода.
type Input struct {
	Event Event
	// At время события у шлюза, служит сигналом порядка. Нулевое значение заменяется на Now.
	At       time.Time
	Now      time.Time
	UserID   string
	Snapshot models.UserSubscription
	// Latest самая свежая запись журнала пользователя, может быть nil.
	Latest *models.Subscription
	Terms  Terms
	NewID  func() string
}

// Result итог применения события.
type Result struct {
	From models.SubscriptionStatus
	To   models.SubscriptionStatus
	// Changed статус изменился.
	Changed bool
	// Stale событие старше последнего применённого и отброшено.
	Stale bool
	// Record запись журнала для сохранения, nil если сохранять нечего.
	Record *models.Subscription
	// Created Record новая запись, иначе обновление существующей.
	Created  bool
	Snapshot models.UserSubscription
}

// Persist сообщает, нужно ли что-то записывать в хранилище.
func (r Result) Persist() bool {
	return r.Record != nil
}

// IsStale событие старше последнего события, применённого к записи.
func IsStale(latest *models.Subscription, at time.Time) bool {
	if latest == nil || at.IsZero() || latest.LastEventAt.IsZero() {
		return false
	}
	return at.Before(latest.LastEventAt)
}

// Apply вычисляет переход. Функция чистая: входные Latest и Snapshot не изменяются.
func Apply(in Input) Result {
	from := in.Snapshot.Status
	if from == "" {
		from = models.StatusFree
	}
	at := in.At
	if at.IsZero() {
		at = in.Now
	}

	res := Result{From: from, To: from, Snapshot: in.Snapshot}
	res.Snapshot.Status = from
	to, ok := Next(from, in.Event)
	active := in.Latest != nil && in.Latest.IsActive()

	if IsStale(in.Latest, at) {
		res.Stale = true
		// Запоздавшее событие без смены статуса может лишь дополнить
		// пустые поля активной записи, например код подписки.
		if !ok && active {
			if rec, filled := fillGaps(in.Latest, in.Terms); filled {
				rec.UpdatedAt = in.Now
				res.Record = rec
			}
		}
		return res
	}

	if !ok {
		// Продление в premium и обновление условий не меняют статус,
		// но должны попасть в активную запись.
		if !active || in.Terms.empty() {
			return res
		}
		rec := copyRecord(in.Latest)
		mergeTerms(rec, in.Terms)
		touch(rec, at, in.Now)
		res.Record = rec
		applySnapshot(&res.Snapshot, rec, in.Terms)
		return res
	}

	res.To = to
	res.Changed = true

	create := !active || to == models.StatusPremium && (from == models.StatusFree || from == models.StatusCancelled)
	var rec *models.Subscription
	if create {
		rec = &models.Subscription{
			UserID:    in.UserID,
			StartDate: at,
			CreatedAt: in.Now,
		}
		if in.NewID != nil {
			rec.ID = in.NewID()
		}
		if in.Latest != nil {
			rec.ProviderPlanCode = in.Latest.ProviderPlanCode
			rec.Amount = in.Latest.Amount
			rec.Currency = in.Latest.Currency
		}
		res.Created = true
	} else {
		rec = copyRecord(in.Latest)
	}

	rec.Status = to
	mergeTerms(rec, in.Terms)
	if to == models.StatusCancelled {
		cancelled := at
		rec.CancelledAt = &cancelled
	}
	touch(rec, at, in.Now)

	res.Record = rec
	res.Snapshot.Status = to
	if res.Created {
		start := rec.StartDate
		res.Snapshot.StartDate = &start
	}
	applySnapshot(&res.Snapshot, rec, in.Terms)
	switch to {
	case models.StatusPremium:
		if in.Terms.AutoRenew == nil {
			res.Snapshot.AutoRenew = true
		}
	case models.StatusCancelled:
		res.Snapshot.AutoRenew = false
	}
	return res
}

func fillGaps(src *models.Subscription, t Terms) (*models.Subscription, bool) {
	rec := copyRecord(src)
	filled := false
	if rec.ProviderSubscriptionCode == "" && t.SubscriptionCode != "" {
		rec.ProviderSubscriptionCode = t.SubscriptionCode
		filled = true
	}
	if rec.ProviderEmailToken == "" && t.EmailToken != "" {
		rec.ProviderEmailToken = t.EmailToken
		filled = true
	}
	if rec.NextPaymentDate == nil && t.NextPaymentDate != nil {
		next := *t.NextPaymentDate
		rec.NextPaymentDate = &next
		filled = true
	}
	return rec, filled
}

func copyRecord(src *models.Subscription) *models.Subscription {
	rec := *src
	if src.NextPaymentDate != nil {
		t := *src.NextPaymentDate
		rec.NextPaymentDate = &t
	}
	if src.CancelledAt != nil {
		t := *src.CancelledAt
		rec.CancelledAt = &t
	}
	return &rec
}

func mergeTerms(rec *models.Subscription, t Terms) {
	if t.PlanCode != "" {
		rec.ProviderPlanCode = t.PlanCode
	}
	if t.SubscriptionCode != "" {
		rec.ProviderSubscriptionCode = t.SubscriptionCode
	}
	if t.EmailToken != "" {
		rec.ProviderEmailToken = t.EmailToken
	}
	if t.Amount != 0 {
		rec.Amount = t.Amount
	}
	if t.Currency != "" {
		rec.Currency = t.Currency
	}
	if t.NextPaymentDate != nil {
		next := *t.NextPaymentDate
		rec.NextPaymentDate = &next
	}
}

func touch(rec *models.Subscription, at, now time.Time) {
	if at.After(rec.LastEventAt) {
		rec.LastEventAt = at
	}
	rec.UpdatedAt = now
}

func applySnapshot(s *models.UserSubscription, rec *models.Subscription, t Terms) {
	if rec.ProviderPlanCode != "" {
		s.Plan = rec.ProviderPlanCode
	}
	if rec.NextPaymentDate != nil {
		end := *rec.NextPaymentDate
		s.EndDate = &end
	}
	if t.PaymentMethod != "" {
		s.PaymentMethod = t.PaymentMethod
	}
	if t.AutoRenew != nil {
		s.AutoRenew = *t.AutoRenew
	}
}
