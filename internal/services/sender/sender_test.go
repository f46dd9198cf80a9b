package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/mealplan/internal/mailer"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg mailer.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSenderService_HandleNotification(t *testing.T) {
	verification := models.Notification{
		Kind:  models.NotifyEmailVerification,
		Email: "cook@example.com",
		Name:  "Ann",
		Link:  "https://mealplan.test/auth/verify-email/abc",
	}

	tests := []struct {
		name       string
		body       []byte
		setupMocks func(m *MockMailer)
		wantErr    bool
	}{
		{
			name: "verification email",
			body: mustJSON(t, verification),
			setupMocks: func(m *MockMailer) {
				m.On("Send", mock.Anything, mock.MatchedBy(func(msg mailer.Message) bool {
					return msg.To == "cook@example.com" && msg.Tag == "email_verification" &&
						strings.Contains(msg.Text, verification.Link)
				})).Return(nil).Once()
			},
		},
		{
			name: "send failure is retried",
			body: mustJSON(t, verification),
			setupMocks: func(m *MockMailer) {
				m.On("Send", mock.Anything, mock.Anything).Return(mailer.ErrSendFailed).Once()
			},
			wantErr: true,
		},
		{
			name: "invalid message is dropped",
			body: mustJSON(t, models.Notification{Kind: models.NotifyPasswordChanged}),
			setupMocks: func(m *MockMailer) {
				m.On("Send", mock.Anything, mock.Anything).Return(fmt.Errorf("mailer.SMTPSender.Send: %w", mailer.ErrInvalidMessage)).Once()
			},
		},
		{
			name:       "malformed json is dropped",
			body:       []byte(`{"kind":`),
			setupMocks: func(_ *MockMailer) {},
		},
		{
			name:       "unknown kind is dropped",
			body:       []byte(`{"kind":"sms","email":"cook@example.com"}`),
			setupMocks: func(_ *MockMailer) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockMailer)
			tt.setupMocks(m)
			s := NewSenderService(m, newNoopLogger())

			err := s.HandleNotification(tt.body)
			if tt.wantErr {
				assert.ErrorIs(t, err, mailer.ErrSendFailed)
			} else {
				assert.NoError(t, err)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		n        models.Notification
		subject  string
		contains string
	}{
		{
			n:        models.Notification{Kind: models.NotifyPasswordReset, Email: "a@x.com", Link: "https://r/1"},
			subject:  "Сброс пароля",
			contains: "https://r/1",
		},
		{
			n:        models.Notification{Kind: models.NotifySubscriptionChanged, Email: "a@x.com", Status: models.StatusPremium, Plan: "PLN_month"},
			subject:  "Статус подписки изменён",
			contains: "PLN_month",
		},
		{
			n:        models.Notification{Kind: models.NotifySubscriptionChanged, Email: "a@x.com", Status: models.StatusPastDue},
			subject:  "Статус подписки изменён",
			contains: "льготного периода",
		},
		{
			n:        models.Notification{Kind: models.NotifySubscriptionChanged, Email: "a@x.com", Status: models.StatusCancelled},
			subject:  "Статус подписки изменён",
			contains: "отменена",
		},
	}
	for _, tt := range tests {
		msg, err := Render(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.subject, msg.Subject)
		assert.Contains(t, msg.Text, tt.contains)
		assert.Equal(t, "a@x.com", msg.To)
		assert.Contains(t, msg.Text, "друг")
	}

	_, err := Render(models.Notification{Kind: "sms"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
