// Package services превращает уведомления из шины в письма.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/mailer"
	"github.com/magabrotheeeer/mealplan/internal/models"
)

// ErrUnknownKind уведомление неизвестного типа.
var ErrUnknownKind = errors.New("unknown notification kind")

const sendTimeout = 30 * time.Second

// Mailer отправляет письмо.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// SenderService обрабатывает сообщения очередей уведомлений.
type SenderService struct {
	mailer Mailer
	log    *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(m Mailer, log *slog.Logger) *SenderService {
	return &SenderService{
		mailer: m,
		log:    log,
	}
}

// HandleNotification разбирает сообщение и отправляет письмо.
// Нераспознаваемые сообщения подтверждаются и только логируются, иначе они
// возвращались бы в очередь бесконечно. Ошибка отправки возвращается для повтора.
func (s *SenderService) HandleNotification(body []byte) error {
	const op = "services.SenderService.HandleNotification"

	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.log.Error("failed to unmarshal notification", slog.String("op", op), sl.Err(err))
		return nil
	}
	msg, err := Render(n)
	if err != nil {
		s.log.Error("failed to render notification",
			slog.String("op", op), slog.String("kind", string(n.Kind)), sl.Err(err))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.mailer.Send(ctx, msg); err != nil {
		if errors.Is(err, mailer.ErrInvalidMessage) {
			s.log.Error("dropping invalid notification", slog.String("op", op), sl.Err(err))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Render собирает письмо для уведомления.
func Render(n models.Notification) (mailer.Message, error) {
	msg := mailer.Message{To: n.Email, Tag: string(n.Kind)}
	name := n.Name
	if name == "" {
		name = "друг"
	}

	switch n.Kind {
	case models.NotifyEmailVerification:
		msg.Subject = "Подтвердите email"
		msg.Text = fmt.Sprintf("Здравствуйте, %s!\n\nЧтобы подтвердить адрес, перейдите по ссылке:\n%s\n\n"+
			"Ссылка действует 24 часа.", name, n.Link)
	case models.NotifyPasswordReset:
		msg.Subject = "Сброс пароля"
		msg.Text = fmt.Sprintf("Здравствуйте, %s!\n\nДля сброса пароля перейдите по ссылке:\n%s\n\n"+
			"Если вы не запрашивали сброс, просто проигнорируйте это письмо.", name, n.Link)
	case models.NotifyPasswordChanged:
		msg.Subject = "Пароль изменён"
		msg.Text = fmt.Sprintf("Здравствуйте, %s!\n\nПароль от вашего аккаунта был изменён, "+
			"все устройства вышли из аккаунта.\nЕсли это были не вы, свяжитесь с поддержкой.", name)
	case models.NotifySubscriptionChanged:
		msg.Subject = "Статус подписки изменён"
		msg.Text = fmt.Sprintf("Здравствуйте, %s!\n\n%s", name, subscriptionText(n.Status, n.Plan))
	default:
		return mailer.Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}
	return msg, nil
}

func subscriptionText(status models.SubscriptionStatus, plan string) string {
	switch status {
	case models.StatusPremium:
		return fmt.Sprintf("Подписка %s активна. Приятного планирования меню!", plan)
	case models.StatusPastDue:
		return "Не удалось списать оплату за подписку. Доступ сохранится в течение льготного периода, " +
			"проверьте платёжные данные."
	case models.StatusCancelled:
		return "Подписка отменена. Премиум-функции больше недоступны."
	default:
		return "Статус подписки: " + string(status) + "."
	}
}
