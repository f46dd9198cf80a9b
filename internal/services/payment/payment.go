// Package payment управляет подпиской пользователя: оформление через платёжный шлюз,
// отмена, проверка платежа, обработка вебхуков и истечение льготного периода.
//
// Любая смена статуса проходит через transition: блокировка пользователя,
// перечитывание снимка и журнала, subscription.Apply и одна транзакция хранилища.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/metrics"
	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
	"github.com/magabrotheeeer/mealplan/internal/storage"
	"github.com/magabrotheeeer/mealplan/internal/subscription"
)

// Store хранилище пользователей и журнала подписок.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByCustomerCode(ctx context.Context, code string) (*models.User, error)
	SetCustomerCode(ctx context.Context, userID, code string) error
	LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error)
	ListPastDue(ctx context.Context, cutoff time.Time) ([]*models.Subscription, error)
	SaveTransition(ctx context.Context, userID string, snapshot models.UserSubscription, rec *models.Subscription) error
}

// Gateway исходящие вызовы платёжного шлюза.
type Gateway interface {
	InitializeTransaction(ctx context.Context, req paymentprovider.InitializeRequest) (*paymentprovider.InitializeResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*paymentprovider.Transaction, error)
	DisableSubscription(ctx context.Context, code, emailToken string) error
}

// Guard метки идемпотентности и блокировки пользователей.
type Guard interface {
	ClaimEvent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseEvent(ctx context.Context, key string) error
	LockUser(ctx context.Context, userID string, ttl, wait time.Duration) (func(context.Context) error, error)
}

// Publisher отправляет уведомления в шину.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg any) error
}

// Options настройки сервиса.
type Options struct {
	WebhookSecret  string
	IdempotencyTTL time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
	GracePeriod    time.Duration
	CallbackURL    string
	Plans          []config.Plan
}

// Service сервис подписок.
type Service struct {
	store     Store
	gateway   Gateway
	guard     Guard
	publisher Publisher
	metrics   metrics.Recorder
	log       *slog.Logger
	opts      Options
	now       func() time.Time
}

// New создаёт сервис. publisher и rec могут быть nil.
func New(log *slog.Logger, store Store, gateway Gateway, guard Guard, publisher Publisher, rec metrics.Recorder, opts Options) *Service {
	if publisher == nil {
		publisher = rabbitmq.Nop{}
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		store:     store,
		gateway:   gateway,
		guard:     guard,
		publisher: publisher,
		metrics:   rec,
		log:       log,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Plans каталог тарифов.
func (s *Service) Plans() []config.Plan {
	out := make([]config.Plan, len(s.opts.Plans))
	copy(out, s.opts.Plans)
	return out
}

func (s *Service) findPlan(code string) (config.Plan, bool) {
	for _, p := range s.opts.Plans {
		if p.Code == code {
			return p, true
		}
	}
	return config.Plan{}, false
}

// Subscribe создаёт у шлюза сессию оплаты выбранного плана.
// Статус не меняется: его переведёт вебхук charge.success.
func (s *Service) Subscribe(ctx context.Context, userID, planCode string) (*paymentprovider.InitializeResponse, error) {
	const op = "payment.Service.Subscribe"

	plan, ok := s.findPlan(planCode)
	if !ok {
		return nil, apperr.New(apperr.Validation, "Unknown plan")
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.IsPremium() {
		return nil, apperr.New(apperr.Conflict, "Subscription is already active")
	}

	resp, err := s.gateway.InitializeTransaction(ctx, paymentprovider.InitializeRequest{
		Email:       user.Email,
		Amount:      plan.Amount,
		Currency:    plan.Currency,
		Plan:        plan.Code,
		CallbackURL: s.opts.CallbackURL,
		Reference:   uuid.NewString(),
		Metadata: map[string]string{
			"user_id": user.ID,
			"plan":    plan.Code,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("checkout initialized",
		slog.String("op", op), sl.UserID(user.ID), slog.String("reference", resp.Reference))
	return resp, nil
}

// Cancel отменяет подписку по запросу пользователя. Сначала подписка отключается
// у шлюза: ошибка шлюза возвращается как есть и статус не меняется.
// Из premium подписка сразу переходит в cancelled, из past_due только
// снимается автопродление, а статус меняет событие шлюза или истечение льготного периода.
func (s *Service) Cancel(ctx context.Context, userID string) (*models.UserSubscription, error) {
	const op = "payment.Service.Cancel"

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsPremium() {
		return nil, apperr.New(apperr.Validation, "No active subscription to cancel")
	}

	latest, err := s.latest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if latest != nil && latest.IsActive() && latest.ProviderSubscriptionCode != "" {
		if err := s.gateway.DisableSubscription(ctx, latest.ProviderSubscriptionCode, latest.ProviderEmailToken); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	ev := subscription.UserCancelled
	terms := subscription.Terms{}
	if user.Subscription.Status == models.StatusPastDue {
		off := false
		ev, terms.AutoRenew = subscription.TermsUpdated, &off
	}
	res, _, err := s.transition(ctx, userID, ev, s.now(), terms)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &res.Snapshot, nil
}

// Verify запрашивает у шлюза результат платежа. Оплаченный платёж по плану
// применяется так же, как вебхук charge.success, и делит с ним метку идемпотентности.
func (s *Service) Verify(ctx context.Context, userID, reference string) (*paymentprovider.Transaction, error) {
	const op = "payment.Service.Verify"

	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	owned, err := s.ownsTransaction(ctx, userID, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !owned {
		s.log.Warn("verify of foreign transaction", slog.String("op", op), sl.UserID(userID),
			slog.String("reference", reference))
		return nil, apperr.New(apperr.NotFound, "Transaction not found")
	}
	if !tx.Paid() || tx.Plan.PlanCode == "" {
		return tx, nil
	}

	if tx.Customer.CustomerCode != "" {
		if err := s.store.SetCustomerCode(ctx, userID, tx.Customer.CustomerCode); err != nil {
			s.log.Warn("failed to store customer code", slog.String("op", op), sl.UserID(userID), sl.Err(err))
		}
	}

	key := paymentprovider.EventChargeSuccess + ":" + tx.Reference
	claimed, err := s.guard.ClaimEvent(ctx, key, s.opts.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		return tx, nil
	}
	terms := subscription.Terms{
		PlanCode:      tx.Plan.PlanCode,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		PaymentMethod: tx.Authorization.Method(),
	}
	at := tx.PaidAtTime()
	if _, _, err := s.transition(ctx, userID, subscription.ChargeSucceeded, at, terms); err != nil {
		s.release(ctx, key)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tx, nil
}

// Subscription снимок и история подписок пользователя.
func (s *Service) Subscription(ctx context.Context, userID string) (*models.SubscriptionView, error) {
	const op = "payment.Service.Subscription"

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	history, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if history == nil {
		history = []*models.Subscription{}
	}
	return &models.SubscriptionView{Current: user.Subscription, History: history}, nil
}

// ExpireGracePeriod отменяет подписки, просроченные дольше льготного периода.
// Возвращает число отменённых. Ошибка по одному пользователю не останавливает остальных.
func (s *Service) ExpireGracePeriod(ctx context.Context) (int, error) {
	const op = "payment.Service.ExpireGracePeriod"
	log := s.log.With(slog.String("op", op))

	now := s.now()
	due, err := s.store.ListPastDue(ctx, now.Add(-s.opts.GracePeriod))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var (
		expired int
		errs    []error
	)
	for _, rec := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, _, err := s.transition(ctx, rec.UserID, subscription.GracePeriodExpired, now, subscription.Terms{})
		if err != nil {
			log.Error("failed to expire subscription", sl.UserID(rec.UserID), sl.Err(err))
			errs = append(errs, err)
			continue
		}
		if res.Changed {
			expired++
		}
	}
	if len(errs) > 0 {
		return expired, fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return expired, nil
}

// transition применяет событие к подписке пользователя под его блокировкой.
// Снимок и журнал перечитываются внутри блокировки, запись выполняется одной транзакцией.
func (s *Service) transition(
	ctx context.Context,
	userID string,
	ev subscription.Event,
	at time.Time,
	terms subscription.Terms,
) (subscription.Result, *models.User, error) {
	const op = "payment.Service.transition"
	log := s.log.With(slog.String("op", op), sl.UserID(userID), slog.String("event", string(ev)))

	unlock, err := s.guard.LockUser(ctx, userID, s.opts.LockTTL, s.opts.LockWait)
	if err != nil {
		return subscription.Result{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release user lock", sl.Err(err))
		}
	}()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return subscription.Result{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	latest, err := s.latest(ctx, userID)
	if err != nil {
		return subscription.Result{}, nil, fmt.Errorf("%s: %w", op, err)
	}

	res := subscription.Apply(subscription.Input{
		Event:    ev,
		At:       at,
		Now:      s.now(),
		UserID:   userID,
		Snapshot: user.Subscription,
		Latest:   latest,
		Terms:    terms,
		NewID:    uuid.NewString,
	})

	switch {
	case res.Stale:
		log.Info("stale event dropped", slog.Time("at", at))
	case !res.Changed && !res.Persist():
		log.Info("event does not apply to current status", slog.String("status", string(res.From)))
	}
	if !res.Persist() {
		return res, user, nil
	}

	if err := s.store.SaveTransition(ctx, userID, res.Snapshot, res.Record); err != nil {
		return subscription.Result{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	user.Subscription = res.Snapshot

	if res.Changed {
		s.metrics.RecordTransition(string(res.From), string(res.To))
		log.Info("subscription status changed",
			slog.String("from", string(res.From)), slog.String("to", string(res.To)))
		s.notify(ctx, models.Notification{
			Kind:   models.NotifySubscriptionChanged,
			Email:  user.Email,
			Name:   user.Name,
			Status: res.To,
			Plan:   res.Snapshot.Plan,
		})
	}
	return res, user, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "User not found", err)
		}
		return nil, err
	}
	return user, nil
}

// ownsTransaction относит платёж к пользователю по metadata.user_id, выставленному при
// оформлении. Без metadata нужен совпадающий код клиента шлюза или email плательщика.
func (s *Service) ownsTransaction(ctx context.Context, userID string, tx *paymentprovider.Transaction) (bool, error) {
	if owner := tx.Metadata["user_id"]; owner != "" {
		return owner == userID, nil
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if code := tx.Customer.CustomerCode; code != "" && user.ProviderCustomerCode == code {
		return true, nil
	}
	email := models.NormalizeEmail(tx.Customer.Email)
	return email != "" && email == user.Email, nil
}

// latest последняя запись журнала или nil, если записей нет.
func (s *Service) latest(ctx context.Context, userID string) (*models.Subscription, error) {
	rec, err := s.store.LatestSubscription(ctx, userID)
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return rec, err
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.guard.ReleaseEvent(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error("failed to release event marker", slog.String("key", key), sl.Err(err))
	}
}

// notify уведомление после перехода. Ошибка шины переход не откатывает.
func (s *Service) notify(ctx context.Context, n models.Notification) {
	n.CreatedAt = s.now()
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingKeyFor(n.Kind), n); err != nil {
		s.log.Error("failed to publish notification", slog.String("kind", string(n.Kind)), sl.Err(err))
	}
}
