package cancel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Cancel(ctx context.Context, userID string) (*models.UserSubscription, error) {
	args := m.Called(ctx, userID)
	snap, _ := args.Get(0).(*models.UserSubscription)
	return snap, args.Error(1)
}

func TestCancelHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		setupMock      func(m *ServiceMock)
		wantStatusCode int
		wantStatus     string
	}{
		{
			name:   "cancelled",
			userID: "u-1",
			setupMock: func(m *ServiceMock) {
				m.On("Cancel", mock.Anything, "u-1").
					Return(&models.UserSubscription{Status: models.StatusCancelled}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantStatus:     string(models.StatusCancelled),
		},
		{
			name:   "free user",
			userID: "u-2",
			setupMock: func(m *ServiceMock) {
				m.On("Cancel", mock.Anything, "u-2").
					Return(nil, apperr.New(apperr.Validation, "No active subscription to cancel")).Once()
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "anonymous",
			setupMock:      func(_ *ServiceMock) {},
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			tt.setupMock(svc)
			handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)

			req := httptest.NewRequest(http.MethodPost, "/payments/cancel", nil)
			if tt.userID != "" {
				req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserID, tt.userID))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatusCode, rr.Code)
			if tt.wantStatus != "" {
				var resp response.Response
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantStatus, resp.Data.(map[string]any)["status"])
			}
			svc.AssertExpectations(t)
		})
	}
}
