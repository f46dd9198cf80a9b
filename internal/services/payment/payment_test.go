package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/mealplan/internal/metrics"
	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
)

func TestService_Subscribe(t *testing.T) {
	tests := []struct {
		name       string
		user       func() *models.User
		plan       string
		setupMocks func(gw *GatewayMock)
		wantKind   apperr.Kind
		wantErr    bool
	}{
		{
			name: "success",
			user: freeUser,
			plan: "PLN_month",
			setupMocks: func(gw *GatewayMock) {
				gw.On("InitializeTransaction", mock.Anything, mock.MatchedBy(func(r paymentprovider.InitializeRequest) bool {
					return r.Email == "a@x.com" && r.Plan == "PLN_month" && r.Amount == 500000 &&
						r.Metadata["user_id"] == "u-1" && r.Reference != "" &&
						r.CallbackURL == "https://mealplan.test/payments/callback"
				})).Return(&paymentprovider.InitializeResponse{
					AuthorizationURL: "https://checkout.example/abc", Reference: "ref-1",
				}, nil).Once()
			},
		},
		{
			name:       "unknown plan",
			user:       freeUser,
			plan:       "PLN_forever",
			setupMocks: func(_ *GatewayMock) {},
			wantErr:    true,
			wantKind:   apperr.Validation,
		},
		{
			name: "already premium",
			user: func() *models.User {
				u, _ := premiumUser(time.Now())
				return u
			},
			plan:       "PLN_month",
			setupMocks: func(_ *GatewayMock) {},
			wantErr:    true,
			wantKind:   apperr.Conflict,
		},
		{
			name: "gateway down",
			user: freeUser,
			plan: "PLN_month",
			setupMocks: func(gw *GatewayMock) {
				gw.On("InitializeTransaction", mock.Anything, mock.Anything).
					Return(nil, apperr.New(apperr.Upstream, "Payment gateway unavailable")).Once()
			},
			wantErr:  true,
			wantKind: apperr.Upstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(GatewayMock)
			tt.setupMocks(gw)
			svc, _, _ := newTestService(t, newMemStore(tt.user()), gw)

			resp, err := svc.Subscribe(context.Background(), "u-1", tt.plan)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://checkout.example/abc", resp.AuthorizationURL)
			gw.AssertExpectations(t)
		})
	}
}

func TestService_Cancel(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("premium is cancelled after gateway disable", func(t *testing.T) {
		u, rec := premiumUser(t0)
		store := newMemStore(u)
		store.addSubscription(rec)
		gw := new(GatewayMock)
		gw.On("DisableSubscription", mock.Anything, "SUB_1", "tok_1").Return(nil).Once()
		svc, _, pub := newTestService(t, store, gw)

		snap, err := svc.Cancel(context.Background(), "u-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, snap.Status)
		assert.False(t, snap.AutoRenew)
		assert.Equal(t, models.StatusCancelled, store.records("u-1")[0].Status)
		gw.AssertExpectations(t)
		pub.AssertCalled(t, "Publish", mock.Anything, rabbitmq.RoutingBilling, mock.MatchedBy(func(n models.Notification) bool {
			return n.Kind == models.NotifySubscriptionChanged && n.Status == models.StatusCancelled
		}))
	})

	t.Run("gateway error leaves status untouched", func(t *testing.T) {
		u, rec := premiumUser(t0)
		store := newMemStore(u)
		store.addSubscription(rec)
		gw := new(GatewayMock)
		gw.On("DisableSubscription", mock.Anything, "SUB_1", "tok_1").
			Return(apperr.New(apperr.Upstream, "Payment gateway unavailable")).Once()
		svc, _, _ := newTestService(t, store, gw)

		_, err := svc.Cancel(context.Background(), "u-1")
		assert.True(t, apperr.Is(err, apperr.Upstream))
		assert.Equal(t, models.StatusPremium, store.user("u-1").Subscription.Status)
		assert.Equal(t, 0, store.saveCount())
	})

	t.Run("past due only stops renewal", func(t *testing.T) {
		u, rec := premiumUser(t0)
		u.Subscription.Status = models.StatusPastDue
		rec.Status = models.StatusPastDue
		store := newMemStore(u)
		store.addSubscription(rec)
		gw := new(GatewayMock)
		gw.On("DisableSubscription", mock.Anything, "SUB_1", "tok_1").Return(nil).Once()
		svc, _, _ := newTestService(t, store, gw)

		snap, err := svc.Cancel(context.Background(), "u-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPastDue, snap.Status)
		assert.False(t, snap.AutoRenew)
		assert.False(t, store.user("u-1").Subscription.AutoRenew)
	})

	t.Run("free user has nothing to cancel", func(t *testing.T) {
		gw := new(GatewayMock)
		svc, _, _ := newTestService(t, newMemStore(freeUser()), gw)

		_, err := svc.Cancel(context.Background(), "u-1")
		assert.True(t, apperr.Is(err, apperr.Validation))
		gw.AssertNotCalled(t, "DisableSubscription", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, _, _ := newTestService(t, newMemStore(), new(GatewayMock))
		_, err := svc.Cancel(context.Background(), "nobody")
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})
}

func TestService_VerifySharesMarkerWithWebhook(t *testing.T) {
	store := newMemStore(freeUser())
	gw := new(GatewayMock)
	gw.On("VerifyTransaction", mock.Anything, "ref-9").Return(&paymentprovider.Transaction{
		Status:    "success",
		Reference: "ref-9",
		Amount:    500000,
		Currency:  "NGN",
		PaidAt:    "2025-03-01T10:00:00Z",
		Plan:      paymentprovider.PlanRef{PlanCode: "PLN_month"},
		Customer:  paymentprovider.Customer{CustomerCode: "CUS_9", Email: "a@x.com"},
		Metadata:  paymentprovider.Metadata{"user_id": "u-1"},
	}, nil)
	svc, _, _ := newTestService(t, store, gw)
	ctx := context.Background()

	tx, err := svc.Verify(ctx, "u-1", "ref-9")
	require.NoError(t, err)
	assert.True(t, tx.Paid())
	assert.Equal(t, models.StatusPremium, store.user("u-1").Subscription.Status)
	assert.Equal(t, "CUS_9", store.user("u-1").ProviderCustomerCode)

	_, err = deliver(svc, eventBody(t, paymentprovider.EventChargeSuccess, chargeData("ref-9", "u-1", "2025-03-01T10:00:00Z")))
	assert.True(t, apperr.Is(err, apperr.IdempotentNoop))
	assert.Len(t, store.records("u-1"), 1)

	_, err = svc.Verify(ctx, "u-2", "ref-9")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestService_VerifyWithoutMetadataChecksPayer(t *testing.T) {
	paid := func(ref string) *paymentprovider.Transaction {
		return &paymentprovider.Transaction{
			Status:    "success",
			Reference: ref,
			Amount:    500000,
			Currency:  "NGN",
			PaidAt:    "2025-03-01T10:00:00Z",
			Plan:      paymentprovider.PlanRef{PlanCode: "PLN_month"},
			Customer:  paymentprovider.Customer{CustomerCode: "CUS_B", Email: "B@x.com"},
		}
	}
	owner := &models.User{ID: "u-2", Email: "b@x.com", Name: "Bob", IsActive: true}

	t.Run("foreign payer", func(t *testing.T) {
		store := newMemStore(freeUser(), owner)
		gw := new(GatewayMock)
		gw.On("VerifyTransaction", mock.Anything, "ref-7").Return(paid("ref-7"), nil)
		svc, _, _ := newTestService(t, store, gw)

		_, err := svc.Verify(context.Background(), "u-1", "ref-7")
		assert.True(t, apperr.Is(err, apperr.NotFound))
		assert.Equal(t, models.StatusFree, store.user("u-1").Subscription.Status)
		assert.Empty(t, store.user("u-1").ProviderCustomerCode)
		assert.Empty(t, store.records("u-1"))

		// метка не занята, поэтому вебхук владельца применяется
		outcome, err := deliver(svc, eventBody(t, paymentprovider.EventChargeSuccess, chargeData("ref-7", "u-2", "2025-03-01T10:00:00Z")))
		require.NoError(t, err)
		assert.Equal(t, metrics.OutcomeApplied, outcome)
		assert.Equal(t, models.StatusPremium, store.user("u-2").Subscription.Status)
	})

	t.Run("payer by email", func(t *testing.T) {
		store := newMemStore(freeUser(), owner)
		gw := new(GatewayMock)
		gw.On("VerifyTransaction", mock.Anything, "ref-8").Return(paid("ref-8"), nil)
		svc, _, _ := newTestService(t, store, gw)

		_, err := svc.Verify(context.Background(), "u-2", "ref-8")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPremium, store.user("u-2").Subscription.Status)
		assert.Equal(t, "CUS_B", store.user("u-2").ProviderCustomerCode)
	})

	t.Run("payer by customer code", func(t *testing.T) {
		known := *owner
		known.Email = "renamed@x.com"
		known.ProviderCustomerCode = "CUS_B"
		store := newMemStore(&known)
		gw := new(GatewayMock)
		gw.On("VerifyTransaction", mock.Anything, "ref-9").Return(paid("ref-9"), nil)
		svc, _, _ := newTestService(t, store, gw)

		_, err := svc.Verify(context.Background(), "u-2", "ref-9")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPremium, store.user("u-2").Subscription.Status)
	})
}

func TestService_ExpireGracePeriod(t *testing.T) {
	now := time.Now().UTC()
	overdue := now.Add(-5 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	u1, r1 := premiumUser(now.Add(-40 * 24 * time.Hour))
	u1.Subscription.Status = models.StatusPastDue
	r1.Status, r1.NextPaymentDate = models.StatusPastDue, &overdue

	u2, r2 := premiumUser(now.Add(-40 * 24 * time.Hour))
	u2.ID, u2.Email = "u-2", "b@x.com"
	u2.Subscription.Status = models.StatusPastDue
	r2.ID, r2.UserID = "sub-2", "u-2"
	r2.Status, r2.NextPaymentDate = models.StatusPastDue, &recent

	store := newMemStore(u1, u2)
	store.addSubscription(r1)
	store.addSubscription(r2)
	svc, _, _ := newTestService(t, store, new(GatewayMock))

	n, err := svc.ExpireGracePeriod(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusCancelled, store.user("u-1").Subscription.Status)
	assert.Equal(t, models.StatusPastDue, store.user("u-2").Subscription.Status)

	n, err = svc.ExpireGracePeriod(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_SubscriptionView(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	u, rec := premiumUser(t0)
	store := newMemStore(u)
	old := *rec
	old.ID, old.Status = "sub-0", models.StatusCancelled
	store.addSubscription(&old)
	store.addSubscription(rec)
	svc, _, _ := newTestService(t, store, new(GatewayMock))

	view, err := svc.Subscription(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPremium, view.Current.Status)
	require.Len(t, view.History, 2)
	assert.Equal(t, "sub-1", view.History[0].ID)

	_, err = svc.Subscription(context.Background(), "ghost")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestService_Plans(t *testing.T) {
	svc, _, _ := newTestService(t, newMemStore(), new(GatewayMock))
	plans := svc.Plans()
	require.Len(t, plans, 1)
	plans[0].Amount = 1
	assert.Equal(t, int64(500000), svc.Plans()[0].Amount)
}
