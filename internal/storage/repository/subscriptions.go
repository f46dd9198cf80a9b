package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/mealplan/internal/models"
	"github.com/magabrotheeeer/mealplan/internal/storage"
)

const subscriptionColumns = `id, user_id, provider_plan_code, provider_subscription_code, provider_email_token,
	status, amount, currency, start_date, next_payment_date, cancelled_at, last_event_at, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var next, cancelled sql.NullTime
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.ProviderPlanCode, &sub.ProviderSubscriptionCode,
		&sub.ProviderEmailToken, &sub.Status, &sub.Amount, &sub.Currency, &sub.StartDate,
		&next, &cancelled, &sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.NextPaymentDate = timePtr(next)
	sub.CancelledAt = timePtr(cancelled)
	sub.StartDate = sub.StartDate.UTC()
	sub.LastEventAt = sub.LastEventAt.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, nil
}

// LatestSubscription возвращает активную запись пользователя, а если её нет,
// самую свежую по дате создания.
func (s *Storage) LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.LatestSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1
			  ORDER BY (status IN ('premium', 'past_due')) DESC, created_at DESC
			  LIMIT 1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListSubscriptions возвращает журнал подписок пользователя, новые записи первыми.
func (s *Storage) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptions"
	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1
			  ORDER BY created_at DESC`
	return s.querySubscriptions(ctx, op, query, userID)
}

// ListPastDue возвращает просроченные записи, у которых льготный период закончился к cutoff.
func (s *Storage) ListPastDue(ctx context.Context, cutoff time.Time) ([]*models.Subscription, error) {
	const op = "storage.ListPastDue"
	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status = 'past_due'
			  AND COALESCE(next_payment_date, last_event_at) <= $1
			  ORDER BY last_event_at`
	return s.querySubscriptions(ctx, op, query, cutoff)
}

func (s *Storage) querySubscriptions(ctx context.Context, op, query string, args ...any) ([]*models.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	subs := make([]*models.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// SaveTransition в одной транзакции обновляет снимок подписки пользователя
// и сохраняет запись журнала (если rec не nil).
func (s *Storage) SaveTransition(ctx context.Context, userID string, snapshot models.UserSubscription,
	rec *models.Subscription) error {
	const op = "storage.SaveTransition"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE users SET sub_status = $2, sub_plan = $3, sub_start_date = $4,
			      sub_end_date = $5, sub_payment_method = $6, sub_auto_renew = $7, updated_at = $8
			  WHERE id = $1`,
		userID, snapshot.Status, snapshot.Plan, nullTime(snapshot.StartDate), nullTime(snapshot.EndDate),
		snapshot.PaymentMethod, snapshot.AutoRenew, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = checkAffected(op, res); err != nil {
		return err
	}

	if rec != nil {
		rec.UpdatedAt = now
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
				  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
				  ON CONFLICT (id) DO UPDATE SET
				      provider_plan_code = EXCLUDED.provider_plan_code,
				      provider_subscription_code = EXCLUDED.provider_subscription_code,
				      provider_email_token = EXCLUDED.provider_email_token,
				      status = EXCLUDED.status,
				      amount = EXCLUDED.amount,
				      currency = EXCLUDED.currency,
				      next_payment_date = EXCLUDED.next_payment_date,
				      cancelled_at = EXCLUDED.cancelled_at,
				      last_event_at = EXCLUDED.last_event_at,
				      updated_at = EXCLUDED.updated_at`,
			rec.ID, rec.UserID, rec.ProviderPlanCode, rec.ProviderSubscriptionCode, rec.ProviderEmailToken,
			rec.Status, rec.Amount, rec.Currency, rec.StartDate, nullTime(rec.NextPaymentDate),
			nullTime(rec.CancelledAt), rec.LastEventAt, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
