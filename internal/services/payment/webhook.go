package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/signature"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/metrics"
	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
	"github.com/magabrotheeeer/mealplan/internal/storage"
	"github.com/magabrotheeeer/mealplan/internal/subscription"
)

// HandleWebhook обрабатывает событие шлюза и возвращает исход для метрик и логов.
//
// Подпись проверяется до разбора тела. Повторная доставка возвращает IdempotentNoop.
// Неизвестные события и события без пользователя подтверждаются без ошибки,
// чтобы шлюз не повторял их. При сбое обработки метка снимается и шлюз
// получит ошибку, а его повторная доставка будет обработана заново.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, sig string) (string, error) {
	const op = "payment.Service.HandleWebhook"
	log := s.log.With(slog.String("op", op))

	if !signature.Verify(s.opts.WebhookSecret, body, sig) {
		s.metrics.RecordSignatureRejected()
		log.Warn("webhook signature mismatch")
		return metrics.OutcomeFailed, apperr.New(apperr.Signature, "Invalid signature")
	}

	var ev paymentprovider.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		s.metrics.RecordWebhook("malformed", metrics.OutcomeFailed)
		return metrics.OutcomeFailed, apperr.Wrap(apperr.Validation, "Malformed webhook payload", err)
	}
	log = log.With(slog.String("event", ev.Event))

	mapped, terms, known := mapEvent(ev)
	if !known {
		log.Info("webhook event ignored")
		s.metrics.RecordWebhook(ev.Event, metrics.OutcomeIgnored)
		return metrics.OutcomeIgnored, nil
	}

	key := eventKey(ev, body)
	log = log.With(slog.String("key", key))
	claimed, err := s.guard.ClaimEvent(ctx, key, s.opts.IdempotencyTTL)
	if err != nil {
		s.metrics.RecordWebhook(ev.Event, metrics.OutcomeFailed)
		return metrics.OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		log.Info("duplicate webhook delivery")
		s.metrics.RecordWebhook(ev.Event, metrics.OutcomeDuplicate)
		return metrics.OutcomeDuplicate, apperr.New(apperr.IdempotentNoop, "Event already processed")
	}

	outcome, err := s.applyEvent(ctx, ev, mapped, terms)
	if err != nil {
		s.release(ctx, key)
		log.Error("failed to process webhook", sl.Err(err))
		s.metrics.RecordWebhook(ev.Event, metrics.OutcomeFailed)
		return metrics.OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.RecordWebhook(ev.Event, outcome)
	log.Info("webhook processed", slog.String("outcome", outcome))
	return outcome, nil
}

func (s *Service) applyEvent(ctx context.Context, ev paymentprovider.Event, mapped subscription.Event, terms subscription.Terms) (string, error) {
	user, err := s.resolveUser(ctx, ev.Data)
	if err != nil {
		return "", err
	}
	if user == nil {
		s.log.Warn("webhook user not found",
			slog.String("event", ev.Event), slog.String("customer", ev.Data.Customer.CustomerCode))
		return metrics.OutcomeUnmatched, nil
	}

	at := ev.Data.OccurredAt(ev.Event)
	if at.IsZero() {
		at = s.now()
	}
	res, _, err := s.transition(ctx, user.ID, mapped, at, terms)
	if err != nil {
		return "", err
	}
	switch {
	case res.Stale:
		return metrics.OutcomeStale, nil
	case res.Changed, res.Persist():
		return metrics.OutcomeApplied, nil
	default:
		return metrics.OutcomeNoop, nil
	}
}

// resolveUser ищет пользователя по metadata.user_id, коду клиента шлюза, затем по email.
// Найденному по другому признаку пользователю запоминается код клиента.
func (s *Service) resolveUser(ctx context.Context, d paymentprovider.EventData) (*models.User, error) {
	const op = "payment.Service.resolveUser"
	code := d.Customer.CustomerCode

	lookups := []func() (*models.User, error){
		func() (*models.User, error) { return s.store.GetUserByID(ctx, d.Metadata["user_id"]) },
		func() (*models.User, error) { return s.store.GetUserByCustomerCode(ctx, code) },
		func() (*models.User, error) { return s.store.GetUserByEmail(ctx, models.NormalizeEmail(d.Customer.Email)) },
	}
	keys := []string{d.Metadata["user_id"], code, d.Customer.Email}

	for i, lookup := range lookups {
		if keys[i] == "" {
			continue
		}
		user, err := lookup()
		if errors.Is(err, storage.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if code != "" && user.ProviderCustomerCode != code {
			if err := s.store.SetCustomerCode(ctx, user.ID, code); err != nil {
				s.log.Warn("failed to store customer code", slog.String("op", op), sl.UserID(user.ID), sl.Err(err))
			}
		}
		return user, nil
	}
	return nil, nil
}

// mapEvent переводит событие шлюза в событие автомата.
// false для событий, которые сервис не моделирует, и для разовых платежей без плана.
func mapEvent(ev paymentprovider.Event) (subscription.Event, subscription.Terms, bool) {
	d := ev.Data
	terms := subscription.Terms{
		SubscriptionCode: d.Code(),
		EmailToken:       d.Token(),
		NextPaymentDate:  d.NextPayment(),
	}

	switch ev.Event {
	case paymentprovider.EventChargeSuccess:
		if d.Plan.PlanCode == "" {
			return "", subscription.Terms{}, false
		}
		terms.PlanCode = d.Plan.PlanCode
		terms.Amount = d.PlanAmount()
		terms.Currency = d.PlanCurrency()
		terms.PaymentMethod = d.Authorization.Method()
		return subscription.ChargeSucceeded, terms, true
	case paymentprovider.EventSubscriptionCreate:
		terms.PlanCode = d.Plan.PlanCode
		terms.Amount = d.PlanAmount()
		terms.Currency = d.PlanCurrency()
		return subscription.ChargeSucceeded, terms, true
	case paymentprovider.EventInvoicePaymentFailed:
		return subscription.PaymentFailed, terms, true
	case paymentprovider.EventSubscriptionDisable:
		return subscription.SubscriptionDisabled, terms, true
	case paymentprovider.EventSubscriptionNotRenew:
		off := false
		terms.AutoRenew = &off
		return subscription.TermsUpdated, terms, true
	default:
		return "", subscription.Terms{}, false
	}
}

// eventKey ключ идемпотентности: тип события и его ссылка у шлюза.
// Без ссылки берётся код счёта, код подписки или хеш тела.
func eventKey(ev paymentprovider.Event, body []byte) string {
	for _, ref := range []string{ev.Data.Reference, ev.Data.InvoiceCode, ev.Data.Code()} {
		if ref != "" {
			return ev.Event + ":" + ref
		}
	}
	sum := sha256.Sum256(body)
	return ev.Event + ":" + hex.EncodeToString(sum[:])
}
