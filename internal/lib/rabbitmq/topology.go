// Package rabbitmq доставка уведомлений через RabbitMQ: топология, публикация и потребление.
package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mealplan/internal/models"
)

const (
	// NotificationsExchange direct-обменник для писем пользователям.
	NotificationsExchange = "notifications"
	// DeadLetterExchange принимает письма, которые не удалось отправить повторно.
	DeadLetterExchange = "notifications.dlx"

	prefetch = 10
)

// Ключи маршрутизации уведомлений.
const (
	RoutingAuth    = "auth"
	RoutingBilling = "billing"
)

// QueueConfig очередь и ключ, которым она привязана к обменнику уведомлений.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// DeadLetterQueue имя очереди, куда попадают отброшенные сообщения очереди q.
func (q QueueConfig) DeadLetterQueue() string {
	return q.QueueName + ".dead"
}

func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notification.auth", RoutingKey: RoutingAuth},
		{QueueName: "notification.billing", RoutingKey: RoutingBilling},
	}
}

// RoutingKeyFor очередь для вида уведомления: письма о подписке идут отдельно от писем аккаунта.
func RoutingKeyFor(kind models.NotificationKind) string {
	if kind == models.NotifySubscriptionChanged {
		return RoutingBilling
	}
	return RoutingAuth
}

// SetupChannel открывает канал и объявляет топологию: обменник уведомлений,
// dead-letter обменник и для каждой очереди пару рабочая/мёртвая.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := declare(ch, queues); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ch, nil
}

func declare(ch *amqp.Channel, queues []QueueConfig) error {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	for _, ex := range []string{NotificationsExchange, DeadLetterExchange} {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("exchange %s: %w", ex, err)
		}
	}

	for _, q := range queues {
		dead := q.DeadLetterQueue()
		if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue %s: %w", dead, err)
		}
		if err := ch.QueueBind(dead, q.RoutingKey, DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", dead, err)
		}

		args := amqp.Table{"x-dead-letter-exchange": DeadLetterExchange}
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, args); err != nil {
			return fmt.Errorf("queue %s: %w", q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, NotificationsExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q.QueueName, q.RoutingKey, err)
		}
	}
	return nil
}
