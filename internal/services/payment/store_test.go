package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/paymentprovider"
	"github.com/magabrotheeeer/mealplan/internal/storage"
)

// memStore хранилище в памяти с теми же гарантиями, что и настоящие:
// одна активная запись на пользователя и атомарная запись перехода.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	subs     []*models.Subscription
	saves    int
	failNext error
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{users: make(map[string]*models.User)}
	for _, u := range users {
		u.Normalize()
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) addSubscription(rec *models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.subs = append(s.subs, &c)
}

func (s *memStore) user(id string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *memStore) records(userID string) []models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Subscription
	for _, r := range s.subs {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.ID == id })
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return u.Email == email })
}

func (s *memStore) GetUserByCustomerCode(_ context.Context, code string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return code != "" && u.ProviderCustomerCode == code })
}

func (s *memStore) SetCustomerCode(_ context.Context, userID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.ProviderCustomerCode = code
	return nil
}

// Методы учётной записи пишут только свои поля, как и настоящие хранилища.

func (s *memStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return storage.ErrUserExists
		}
	}
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *memStore) GetUserByVerificationHash(_ context.Context, hash string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return hash != "" && u.VerificationTokenHash == hash })
}

func (s *memStore) GetUserByResetHash(_ context.Context, hash string) (*models.User, error) {
	return s.find(func(u *models.User) bool { return hash != "" && u.ResetTokenHash == hash })
}

func (s *memStore) updateAccount(id string, apply func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	apply(u)
	return nil
}

func (s *memStore) TouchLastActive(_ context.Context, id string, at time.Time) error {
	return s.updateAccount(id, func(u *models.User) { u.LastActive, u.UpdatedAt = &at, at })
}

func (s *memStore) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return s.updateAccount(id, func(u *models.User) {
		u.EmailVerified = true
		u.VerificationTokenHash, u.VerificationExpiresAt = "", nil
		u.UpdatedAt = at
	})
}

func (s *memStore) SetResetToken(_ context.Context, id, hash string, expires, at time.Time) error {
	return s.updateAccount(id, func(u *models.User) {
		u.ResetTokenHash, u.ResetExpiresAt = hash, &expires
		u.UpdatedAt = at
	})
}

func (s *memStore) SetPassword(_ context.Context, id, hash string, at time.Time) error {
	return s.updateAccount(id, func(u *models.User) {
		u.PasswordHash = hash
		u.ResetTokenHash, u.ResetExpiresAt = "", nil
		u.UpdatedAt = at
	})
}

func (s *memStore) LatestSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *models.Subscription
	for _, r := range s.subs {
		if r.UserID != userID {
			continue
		}
		if r.IsActive() {
			c := *r
			return &c, nil
		}
		if newest == nil || !r.CreatedAt.Before(newest.CreatedAt) {
			newest = r
		}
	}
	if newest == nil {
		return nil, storage.ErrSubscriptionNotFound
	}
	c := *newest
	return &c, nil
}

func (s *memStore) ListSubscriptions(_ context.Context, userID string) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscription
	for i := len(s.subs) - 1; i >= 0; i-- {
		if s.subs[i].UserID == userID {
			c := *s.subs[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) ListPastDue(_ context.Context, cutoff time.Time) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscription
	for _, r := range s.subs {
		if r.Status != models.StatusPastDue {
			continue
		}
		due := r.LastEventAt
		if r.NextPaymentDate != nil {
			due = *r.NextPaymentDate
		}
		if !due.After(cutoff) {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) SaveTransition(_ context.Context, userID string, snapshot models.UserSubscription, rec *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if rec != nil && rec.IsActive() {
		for _, r := range s.subs {
			if r.UserID == userID && r.ID != rec.ID && r.IsActive() {
				return errors.New("duplicate active subscription")
			}
		}
	}

	u.Subscription = snapshot
	if rec != nil {
		c := *rec
		replaced := false
		for i, r := range s.subs {
			if r.ID == rec.ID {
				s.subs[i] = &c
				replaced = true
			}
		}
		if !replaced {
			s.subs = append(s.subs, &c)
		}
	}
	s.saves++
	return nil
}

// Мок для Gateway
type GatewayMock struct {
	mock.Mock
}

func (m *GatewayMock) InitializeTransaction(ctx context.Context, req paymentprovider.InitializeRequest) (*paymentprovider.InitializeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.InitializeResponse), args.Error(1)
}

func (m *GatewayMock) VerifyTransaction(ctx context.Context, reference string) (*paymentprovider.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.Transaction), args.Error(1)
}

func (m *GatewayMock) DisableSubscription(ctx context.Context, code, emailToken string) error {
	args := m.Called(ctx, code, emailToken)
	return args.Error(0)
}

// Мок для Publisher
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, msg any) error {
	args := m.Called(ctx, routingKey, msg)
	return args.Error(0)
}
