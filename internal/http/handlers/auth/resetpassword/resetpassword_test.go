package resetpassword

import (
	"bytes"
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
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) ResetPassword(ctx context.Context, token, password string) error {
	return m.Called(ctx, token, password).Error(0)
}

func TestResetPasswordHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		token          string
		body           string
		setupMock      func(m *ServiceMock)
		wantStatusCode int
	}{
		{
			name:  "reset",
			token: "tok",
			body:  `{"password":"brand-new-pass"}`,
			setupMock: func(m *ServiceMock) {
				m.On("ResetPassword", mock.Anything, "tok", "brand-new-pass").Return(nil).Once()
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "weak password",
			token:          "tok",
			body:           `{"password":"123"}`,
			setupMock:      func(_ *ServiceMock) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:  "expired token",
			token: "old",
			body:  `{"password":"brand-new-pass"}`,
			setupMock: func(m *ServiceMock) {
				m.On("ResetPassword", mock.Anything, "old", "brand-new-pass").
					Return(apperr.New(apperr.Validation, "Invalid or expired reset token")).Once()
			},
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			tt.setupMock(svc)
			handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)

			req := httptest.NewRequest(http.MethodPost, "/auth/reset-password/"+tt.token, bytes.NewBufferString(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("token", tt.token)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatusCode, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}
