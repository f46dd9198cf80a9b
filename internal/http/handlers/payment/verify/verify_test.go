package verify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mealplan/internal/http/middlewarectx"
	"github.com/magabrotheeeer/mealplan/internal/lib/apperr"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Verify(ctx context.Context, userID, reference string) (*paymentprovider.Transaction, error) {
	args := m.Called(ctx, userID, reference)
	tx, _ := args.Get(0).(*paymentprovider.Transaction)
	return tx, args.Error(1)
}

func TestVerifyHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		reference      string
		setupMock      func(m *ServiceMock)
		wantStatusCode int
		wantPaid       bool
	}{
		{
			name:      "paid",
			reference: "ref-1",
			setupMock: func(m *ServiceMock) {
				m.On("Verify", mock.Anything, "u-1", "ref-1").Return(&paymentprovider.Transaction{
					Status: "success", Reference: "ref-1", Amount: 500000, Currency: "NGN",
					Plan: paymentprovider.PlanRef{PlanCode: "PLN_month"},
				}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
			wantPaid:       true,
		},
		{
			name:      "abandoned",
			reference: "ref-2",
			setupMock: func(m *ServiceMock) {
				m.On("Verify", mock.Anything, "u-1", "ref-2").
					Return(&paymentprovider.Transaction{Status: "abandoned", Reference: "ref-2"}, nil).Once()
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:      "someone else's payment",
			reference: "ref-3",
			setupMock: func(m *ServiceMock) {
				m.On("Verify", mock.Anything, "u-1", "ref-3").
					Return(nil, apperr.New(apperr.NotFound, "Transaction not found")).Once()
			},
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			tt.setupMock(svc)
			handler := New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)

			req := httptest.NewRequest(http.MethodGet, "/payments/verify/"+tt.reference, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("reference", tt.reference)
			ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
			req = req.WithContext(context.WithValue(ctx, middlewarectx.UserID, "u-1"))
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatusCode, rr.Code)
			if rr.Code == http.StatusOK {
				var resp struct {
					Data Result `json:"data"`
				}
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tt.reference, resp.Data.Reference)
				assert.Equal(t, tt.wantPaid, resp.Data.Paid)
			}
			svc.AssertExpectations(t)
		})
	}
}
