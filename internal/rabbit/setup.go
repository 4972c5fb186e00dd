// README: Queue topology and consumer loops.
package rabbit

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	courierStatusExchange = "courier_status"
	courierStatusQueue    = "relay_courier_status"
)

// SetupConsumers declares this service's queue, binds it to the courier
// tracking fanout exchange, and starts the consume loop. Messages are acked
// manually: a handler error nacks with requeue so state-version conflicts and
// transient store outages get redelivered.
func SetupConsumers(ctx context.Context, ch *amqp091.Channel, handler EventHandler, logger *zap.Logger) error {
	if err := ch.ExchangeDeclare(
		courierStatusExchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", courierStatusExchange, err)
	}

	q, err := ch.QueueDeclare(
		courierStatusQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", courierStatusQueue, err)
	}

	if err := ch.QueueBind(q.Name, "", courierStatusExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // server-generated consumer tag
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", q.Name, err)
	}

	consumer := NewCourierStatusConsumer(handler, logger)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					logger.Warn("courier status delivery channel closed")
					return
				}
				if err := consumer.Handle(ctx, m.Body); err != nil {
					logger.Error("courier status handling failed, requeueing", zap.Error(err))
					_ = m.Nack(false, true)
					continue
				}
				_ = m.Ack(false)
			}
		}
	}()

	logger.Info("subscribed to courier status exchange",
		zap.String("exchange", courierStatusExchange),
		zap.String("queue", q.Name))
	return nil
}
