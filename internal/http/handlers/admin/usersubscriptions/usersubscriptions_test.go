package usersubscriptions

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Subscription(ctx context.Context, userID string) (*models.SubscriptionView, error) {
	args := m.Called(ctx, userID)
	v, _ := args.Get(0).(*models.SubscriptionView)
	return v, args.Error(1)
}

func TestUserSubscriptionsHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		setupMock func(m *ServiceMock)
		wantCode  int
	}{
		{
			name: "found",
			id:   "u-7",
			setupMock: func(m *ServiceMock) {
				m.On("Subscription", mock.Anything, "u-7").
					Return(&models.SubscriptionView{Current: models.UserSubscription{Status: models.StatusFree}}, nil).Once()
			},
			wantCode: http.StatusOK,
		},
		{
			name: "missing",
			id:   "ghost",
			setupMock: func(m *ServiceMock) {
				m.On("Subscription", mock.Anything, "ghost").
					Return(nil, apperr.New(apperr.NotFound, "User not found")).Once()
			},
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			tt.setupMock(svc)
			handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)

			req := httptest.NewRequest(http.MethodGet, "/admin/users/"+tt.id+"/subscriptions", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.id)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}
