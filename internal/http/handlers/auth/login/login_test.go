package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mealplan/internal/http/response"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/models"
	services "github.com/magabrotheeeer/mealplan/internal/services/auth"
)

// Мок сервиса входа
type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Login(ctx context.Context, email, password string) (*services.AuthResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*services.AuthResult)
	return res, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestLoginHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(m *ServiceMock)
		wantStatusCode int
		wantError      string
	}{
		{
			name: "success",
			body: `{"email":"a@x.com","password":"password123"}`,
			setupMock: func(m *ServiceMock) {
				m.On("Login", mock.Anything, "a@x.com", "password123").Return(&services.AuthResult{
					User:   models.PublicUser{ID: "u-1"},
					Tokens: services.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"},
				}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "broken json",
			body:           `{"email":`,
			setupMock:      func(_ *ServiceMock) {},
			wantStatusCode: http.StatusBadRequest,
			wantError:      "invalid request body",
		},
		{
			name:           "missing password",
			body:           `{"email":"a@x.com"}`,
			setupMock:      func(_ *ServiceMock) {},
			wantStatusCode: http.StatusBadRequest,
			wantError:      "field Password is a required field",
		},
		{
			name: "wrong credentials",
			body: `{"email":"a@x.com","password":"nope-nope"}`,
			setupMock: func(m *ServiceMock) {
				m.On("Login", mock.Anything, "a@x.com", "nope-nope").
					Return(nil, apperr.New(apperr.Authentication, "Invalid credentials")).Once()
			},
			wantStatusCode: http.StatusUnauthorized,
			wantError:      "Invalid credentials",
		},
		{
			name: "deactivated",
			body: `{"email":"a@x.com","password":"password123"}`,
			setupMock: func(m *ServiceMock) {
				m.On("Login", mock.Anything, "a@x.com", "password123").
					Return(nil, apperr.New(apperr.Authorization, "Account is deactivated")).Once()
			},
			wantStatusCode: http.StatusForbidden,
			wantError:      "Account is deactivated",
		},
		{
			name: "storage failure is not leaked",
			body: `{"email":"a@x.com","password":"password123"}`,
			setupMock: func(m *ServiceMock) {
				m.On("Login", mock.Anything, "a@x.com", "password123").
					Return(nil, errors.New("mongo: no reachable servers")).Once()
			},
			wantStatusCode: http.StatusInternalServerError,
			wantError:      "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			tt.setupMock(svc)
			handler := New(newNoopLogger(), svc)

			req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(tt.body))
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "test-request-id"))
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatusCode, rr.Code)
			var resp response.Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp.Error)
			} else {
				assert.Equal(t, response.StatusOK, resp.Status)
			}
			svc.AssertExpectations(t)
		})
	}
}
