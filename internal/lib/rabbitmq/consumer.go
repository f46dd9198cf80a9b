package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

const maxBackoff = 30 * time.Second

// Connect подключается к брокеру. Пауза между попытками удваивается, начиная с delay.
func Connect(url string, attempts int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"

	n := max(attempts, 1)
	var lastErr error
	wait := delay
	for attempt := 1; attempt <= n; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == n {
			break
		}
		time.Sleep(wait)
		wait = min(wait*2, maxBackoff)
	}
	return nil, fmt.Errorf("%s: after %d attempts: %w", op, n, lastErr)
}

// ConsumerMessage запускает фоновое чтение очереди queue и возвращается сразу.
// Одновременно обрабатывается не больше prefetch сообщений. Упавшее сообщение
// возвращается в очередь один раз; повторная ошибка отправляет его в dead-letter очередь,
// чтобы недоставляемое письмо не крутилось бесконечно.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queue string, log *slog.Logger, handler func([]byte) error) error {
	const op = "rabbitmq.ConsumerMessage"

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("queue", queue))
	slots := make(chan struct{}, prefetch)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn("delivery channel closed")
					return
				}
				slots <- struct{}{}
				go func() {
					defer func() { <-slots }()
					settle(d, handler(d.Body), log)
				}()
			}
		}
	}()
	return nil
}

func settle(d amqp.Delivery, handleErr error, log *slog.Logger) {
	if handleErr == nil {
		if err := d.Ack(false); err != nil {
			log.Error("failed to ack message", sl.Err(err))
		}
		return
	}

	requeue := !d.Redelivered
	log.Error("failed to handle message", slog.Bool("requeue", requeue), sl.Err(handleErr))
	if err := d.Nack(false, requeue); err != nil {
		log.Error("failed to nack message", sl.Err(err))
	}
}
