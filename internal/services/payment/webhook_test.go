package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mealplan/internal/cache"
	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/signature"
	"github.com/magabrotheeeer/mealplan/internal/metrics"
	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
	"github.com/magabrotheeeer/mealplan/internal/subscription"
)

const testSecret = "sk_test_webhook"

var monthly = config.Plan{Code: "PLN_month", Name: "Monthly", Amount: 500000, Currency: "NGN", Interval: "monthly"}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestService(t *testing.T, store *memStore, gw *GatewayMock) (*Service, *miniredis.Miniredis, *PublisherMock) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	pub := new(PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	svc := New(newNoopLogger(), store, gw, c, pub, metrics.Nop{}, Options{
		WebhookSecret:  testSecret,
		IdempotencyTTL: time.Hour,
		LockTTL:        5 * time.Second,
		LockWait:       3 * time.Second,
		GracePeriod:    72 * time.Hour,
		CallbackURL:    "https://mealplan.test/payments/callback",
		Plans:          []config.Plan{monthly},
	})
	return svc, mr, pub
}

func freeUser() *models.User {
	return &models.User{ID: "u-1", Email: "a@x.com", Name: "Ann", IsActive: true}
}

func premiumUser(t0 time.Time) (*models.User, *models.Subscription) {
	u := freeUser()
	u.Subscription = models.UserSubscription{Status: models.StatusPremium, Plan: monthly.Code, AutoRenew: true}
	rec := &models.Subscription{
		ID:                       "sub-1",
		UserID:                   u.ID,
		ProviderPlanCode:         monthly.Code,
		ProviderSubscriptionCode: "SUB_1",
		ProviderEmailToken:       "tok_1",
		Status:                   models.StatusPremium,
		Amount:                   monthly.Amount,
		Currency:                 monthly.Currency,
		StartDate:                t0,
		LastEventAt:              t0,
		CreatedAt:                t0,
		UpdatedAt:                t0,
	}
	return u, rec
}

func eventBody(t *testing.T, event string, data map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return b
}

func chargeData(ref, userID, paidAt string) map[string]any {
	return map[string]any{
		"reference": ref,
		"status":    "success",
		"amount":    500000,
		"currency":  "NGN",
		"paid_at":   paidAt,
		"plan":      map[string]any{"plan_code": "PLN_month", "amount": 500000, "currency": "NGN"},
		"customer":  map[string]any{"customer_code": "CUS_1", "email": "a@x.com"},
		"authorization": map[string]any{
			"channel": "card", "card_type": "visa", "last4": "4081",
		},
		"metadata": map[string]any{"user_id": userID},
	}
}

func deliver(svc *Service, body []byte) (string, error) {
	return svc.HandleWebhook(context.Background(), body, signature.Sign(testSecret, body))
}

func TestHandleWebhook_ConcurrentDuplicateDeliveries(t *testing.T) {
	store := newMemStore(freeUser())
	svc, _, _ := newTestService(t, store, new(GatewayMock))
	body := eventBody(t, paymentprovider.EventChargeSuccess, chargeData("ref-1", "u-1", "2025-03-01T10:00:00Z"))

	const deliveries = 3
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		noops    int
		failures []error
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := deliver(svc, body)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && outcome == metrics.OutcomeApplied:
				applied++
			case apperr.Is(err, apperr.IdempotentNoop):
				noops++
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, applied)
	assert.Equal(t, deliveries-1, noops)
	assert.Equal(t, 1, store.saveCount())

	u := store.user("u-1")
	assert.Equal(t, models.StatusPremium, u.Subscription.Status)
	assert.Equal(t, "PLN_month", u.Subscription.Plan)
	assert.Equal(t, "visa *4081", u.Subscription.PaymentMethod)
	assert.True(t, u.Subscription.AutoRenew)
	assert.Equal(t, "CUS_1", u.ProviderCustomerCode)

	recs := store.records("u-1")
	require.Len(t, recs, 1)
	assert.Equal(t, models.StatusPremium, recs[0].Status)
	assert.Equal(t, int64(500000), recs[0].Amount)
}

func TestHandleWebhook_StaleChargeAfterDisable(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	u, rec := premiumUser(t0)
	store := newMemStore(u)
	store.addSubscription(rec)
	svc, _, _ := newTestService(t, store, new(GatewayMock))
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) }

	disable := eventBody(t, paymentprovider.EventSubscriptionDisable, map[string]any{
		"subscription_code": "SUB_1",
		"email_token":       "tok_1",
		"status":            "complete",
		"createdAt":         "2025-03-01T00:00:00.000Z",
		"customer":          map[string]any{"customer_code": "CUS_1", "email": "a@x.com"},
	})
	outcome, err := deliver(svc, disable)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeApplied, outcome)
	assert.Equal(t, models.StatusCancelled, store.user("u-1").Subscription.Status)

	late := eventBody(t, paymentprovider.EventChargeSuccess, chargeData("ref-late", "u-1", "2025-03-05T00:00:00Z"))
	outcome, err = deliver(svc, late)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeStale, outcome)

	assert.Equal(t, models.StatusCancelled, store.user("u-1").Subscription.Status)
	recs := store.records("u-1")
	require.Len(t, recs, 1)
	assert.Equal(t, models.StatusCancelled, recs[0].Status)
	require.NotNil(t, recs[0].CancelledAt)
}

func TestHandleWebhook_SignatureRejected(t *testing.T) {
	store := newMemStore(freeUser())
	svc, mr, _ := newTestService(t, store, new(GatewayMock))
	body := eventBody(t, paymentprovider.EventChargeSuccess, chargeData("ref-1", "u-1", "2025-03-01T10:00:00Z"))
	valid := signature.Sign(testSecret, body)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-3] ^= 0x01

	tests := []struct {
		name string
		body []byte
		sig  string
	}{
		{name: "one byte changed", body: tampered, sig: valid},
		{name: "wrong secret", body: body, sig: signature.Sign("other", body)},
		{name: "missing header", body: body, sig: ""},
		{name: "truncated signature", body: body, sig: valid[:len(valid)-2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandleWebhook(context.Background(), tt.body, tt.sig)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.Signature))
		})
	}

	assert.Empty(t, mr.Keys(), "nothing may be claimed before the signature is verified")
	assert.Equal(t, 0, store.saveCount())
	assert.Equal(t, models.StatusFree, store.user("u-1").Subscription.Status)
}

func TestHandleWebhook_IgnoredEvents(t *testing.T) {
	store := newMemStore(freeUser())
	svc, mr, _ := newTestService(t, store, new(GatewayMock))

	oneOff := chargeData("ref-2", "u-1", "2025-03-01T10:00:00Z")
	oneOff["plan"] = map[string]any{}

	for name, body := range map[string][]byte{
		"unknown type":        eventBody(t, "customeridentification.success", map[string]any{"reference": "x"}),
		"charge without plan": eventBody(t, paymentprovider.EventChargeSuccess, oneOff),
	} {
		outcome, err := deliver(svc, body)
		require.NoError(t, err, name)
		assert.Equal(t, metrics.OutcomeIgnored, outcome, name)
	}
	assert.Empty(t, mr.Keys())
	assert.Equal(t, 0, store.saveCount())
}

func TestHandleWebhook_MalformedBody(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore(freeUser()), new(GatewayMock))
	_, err := deliver(svc, []byte(`{"event":`))
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestHandleWebhook_ResolvesUser(t *testing.T) {
	t.Run("by email stores customer code", func(t *testing.T) {
		store := newMemStore(freeUser())
		svc, _, _ := newTestService(t, store, new(GatewayMock))
		data := chargeData("ref-1", "", "2025-03-01T10:00:00Z")
		data["customer"] = map[string]any{"customer_code": "CUS_7", "email": "A@X.com"}

		outcome, err := deliver(svc, eventBody(t, paymentprovider.EventChargeSuccess, data))
		require.NoError(t, err)
		assert.Equal(t, metrics.OutcomeApplied, outcome)
		assert.Equal(t, "CUS_7", store.user("u-1").ProviderCustomerCode)
	})

	t.Run("by customer code", func(t *testing.T) {
		u := freeUser()
		u.ProviderCustomerCode = "CUS_7"
		store := newMemStore(u)
		svc, _, _ := newTestService(t, store, new(GatewayMock))
		data := chargeData("ref-1", "", "2025-03-01T10:00:00Z")
		data["customer"] = map[string]any{"customer_code": "CUS_7", "email": "other@x.com"}

		outcome, err := deliver(svc, eventBody(t, paymentprovider.EventChargeSuccess, data))
		require.NoError(t, err)
		assert.Equal(t, metrics.OutcomeApplied, outcome)
		assert.Equal(t, models.StatusPremium, store.user("u-1").Subscription.Status)
	})

	t.Run("unmatched is acknowledged", func(t *testing.T) {
		store := newMemStore(freeUser())
		svc, _, _ := newTestService(t, store, new(GatewayMock))
		data := chargeData("ref-1", "", "2025-03-01T10:00:00Z")
		data["customer"] = map[string]any{"customer_code": "CUS_X", "email": "ghost@x.com"}

		outcome, err := deliver(svc, eventBody(t, paymentprovider.EventChargeSuccess, data))
		require.NoError(t, err)
		assert.Equal(t, metrics.OutcomeUnmatched, outcome)
		assert.Equal(t, 0, store.saveCount())
	})
}

func TestHandleWebhook_FailureReleasesMarker(t *testing.T) {
	store := newMemStore(freeUser())
	store.failNext = errors.New("write conflict")
	svc, mr, _ := newTestService(t, store, new(GatewayMock))
	body := eventBody(t, paymentprovider.EventChargeSuccess, chargeData("ref-1", "u-1", "2025-03-01T10:00:00Z"))

	outcome, err := deliver(svc, body)
	require.Error(t, err)
	assert.Equal(t, metrics.OutcomeFailed, outcome)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.False(t, mr.Exists("webhook:event:charge.success:ref-1"))
	assert.Equal(t, models.StatusFree, store.user("u-1").Subscription.Status)

	outcome, err = deliver(svc, body)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeApplied, outcome)
	assert.Equal(t, models.StatusPremium, store.user("u-1").Subscription.Status)
}

func TestHandleWebhook_Lifecycle(t *testing.T) {
	store := newMemStore(freeUser())
	svc, _, _ := newTestService(t, store, new(GatewayMock))
	var received time.Time
	svc.now = func() time.Time { return received }

	customer := map[string]any{"customer_code": "CUS_1", "email": "a@x.com"}
	steps := []struct {
		name     string
		event    string
		data     map[string]any
		received string
		status   models.SubscriptionStatus
	}{
		{
			name:     "first charge",
			event:    paymentprovider.EventChargeSuccess,
			data:     chargeData("ref-1", "u-1", "2025-03-01T10:00:00Z"),
			received: "2025-03-01T10:00:02Z",
			status:   models.StatusPremium,
		},
		{
			name:  "subscription created",
			event: paymentprovider.EventSubscriptionCreate,
			data: map[string]any{
				"subscription_code": "SUB_1", "email_token": "tok_1",
				"createdAt": "2025-03-01T10:00:05.000Z", "next_payment_date": "2025-04-01T10:00:00.000Z",
				"plan":     map[string]any{"plan_code": "PLN_month"},
				"customer": customer,
			},
			received: "2025-03-01T10:00:06Z",
			status:   models.StatusPremium,
		},
		{
			name:     "renewal charged",
			event:    paymentprovider.EventChargeSuccess,
			data:     chargeData("ref-2", "u-1", "2025-04-01T10:00:00Z"),
			received: "2025-04-01T10:00:02Z",
			status:   models.StatusPremium,
		},
		{
			name:  "next renewal failed",
			event: paymentprovider.EventInvoicePaymentFailed,
			data: map[string]any{
				"invoice_code": "INV_1", "createdAt": "2025-05-01T10:00:00.000Z",
				"customer":     customer,
				"subscription": map[string]any{"subscription_code": "SUB_1", "next_payment_date": "2025-05-04T10:00:00.000Z"},
			},
			received: "2025-05-01T10:00:02Z",
			status:   models.StatusPastDue,
		},
		{
			name:     "retry charged",
			event:    paymentprovider.EventChargeSuccess,
			data:     chargeData("ref-3", "u-1", "2025-05-02T10:00:00Z"),
			received: "2025-05-02T10:00:02Z",
			status:   models.StatusPremium,
		},
		{
			// createdAt здесь время создания подписки, раньше всех продлений
			name:  "disabled",
			event: paymentprovider.EventSubscriptionDisable,
			data: map[string]any{
				"subscription_code": "SUB_1", "createdAt": "2025-03-01T10:00:05.000Z",
				"customer": customer,
			},
			received: "2025-05-20T10:00:00Z",
			status:   models.StatusCancelled,
		},
		{
			name:     "resubscribed",
			event:    paymentprovider.EventChargeSuccess,
			data:     chargeData("ref-4", "u-1", "2025-06-01T10:00:00Z"),
			received: "2025-06-01T10:00:02Z",
			status:   models.StatusPremium,
		},
	}
	for _, st := range steps {
		at, err := time.Parse(time.RFC3339, st.received)
		require.NoError(t, err)
		received = at

		outcome, err := deliver(svc, eventBody(t, st.event, st.data))
		require.NoError(t, err, st.name)
		assert.Equal(t, metrics.OutcomeApplied, outcome, st.name)
		assert.Equal(t, st.status, store.user("u-1").Subscription.Status, st.name)
	}

	recs := store.records("u-1")
	require.Len(t, recs, 2)
	assert.Equal(t, models.StatusCancelled, recs[0].Status)
	assert.Equal(t, "SUB_1", recs[0].ProviderSubscriptionCode)
	assert.Equal(t, "tok_1", recs[0].ProviderEmailToken)
	assert.Equal(t, time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC), recs[0].LastEventAt)
	assert.Equal(t, models.StatusPremium, recs[1].Status)
}

func TestHandleWebhook_NotRenewClearsAutoRenew(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	u, rec := premiumUser(t0)
	store := newMemStore(u)
	store.addSubscription(rec)
	svc, _, _ := newTestService(t, store, new(GatewayMock))

	outcome, err := deliver(svc, eventBody(t, paymentprovider.EventSubscriptionNotRenew, map[string]any{
		"subscription_code": "SUB_1", "createdAt": "2025-03-02T00:00:00.000Z",
		"customer": map[string]any{"customer_code": "CUS_1", "email": "a@x.com"},
	}))
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeApplied, outcome)

	got := store.user("u-1")
	assert.Equal(t, models.StatusPremium, got.Subscription.Status)
	assert.False(t, got.Subscription.AutoRenew)
}

func TestMapEvent(t *testing.T) {
	tests := []struct {
		event string
		data  paymentprovider.EventData
		want  subscription.Event
		known bool
	}{
		{event: paymentprovider.EventChargeSuccess, data: paymentprovider.EventData{Plan: paymentprovider.PlanRef{PlanCode: "P"}}, want: subscription.ChargeSucceeded, known: true},
		{event: paymentprovider.EventChargeSuccess, known: false},
		{event: paymentprovider.EventSubscriptionCreate, want: subscription.ChargeSucceeded, known: true},
		{event: paymentprovider.EventInvoicePaymentFailed, want: subscription.PaymentFailed, known: true},
		{event: paymentprovider.EventSubscriptionDisable, want: subscription.SubscriptionDisabled, known: true},
		{event: paymentprovider.EventSubscriptionNotRenew, want: subscription.TermsUpdated, known: true},
		{event: "transfer.success", known: false},
	}
	for _, tt := range tests {
		got, _, known := mapEvent(paymentprovider.Event{Event: tt.event, Data: tt.data})
		assert.Equal(t, tt.known, known, tt.event)
		assert.Equal(t, tt.want, got, tt.event)
	}
}

func TestEventKey(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	assert.Equal(t, "charge.success:ref-1",
		eventKey(paymentprovider.Event{Event: "charge.success", Data: paymentprovider.EventData{Reference: "ref-1", InvoiceCode: "INV"}}, body))
	assert.Equal(t, "invoice.payment_failed:INV_1",
		eventKey(paymentprovider.Event{Event: "invoice.payment_failed", Data: paymentprovider.EventData{InvoiceCode: "INV_1"}}, body))
	assert.Equal(t, "subscription.disable:SUB_1",
		eventKey(paymentprovider.Event{Event: "subscription.disable", Data: paymentprovider.EventData{
			Subscription: paymentprovider.SubscriptionRef{SubscriptionCode: "SUB_1"},
		}}, body))

	k1 := eventKey(paymentprovider.Event{Event: "x"}, body)
	k2 := eventKey(paymentprovider.Event{Event: "x"}, []byte(`{"event":"y"}`))
	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, len("x:")+64)
}
