package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"tavolino/pkg/logger"
	"tavolino/pkg/models"
	"tavolino/pkg/rabbitmq"
)

// Subscriber binds an exclusive queue to the order events exchange and feeds
// every event to the dispatcher. Each notifier instance gets its own queue,
// so all instances see all events.
type Subscriber struct {
	rmq        *rabbitmq.RabbitMQ
	dispatcher *Dispatcher
	logger     *logger.Logger
}

func NewSubscriber(rmq *rabbitmq.RabbitMQ, dispatcher *Dispatcher, log *logger.Logger) *Subscriber {
	return &Subscriber{
		rmq:        rmq,
		dispatcher: dispatcher,
		logger:     log,
	}
}

// Run consumes until the context is cancelled or the broker closes the
// delivery channel.
func (s *Subscriber) Run(ctx context.Context) error {
	queue, err := s.rmq.Channel.QueueDeclare(
		"",    // name, broker-generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = s.rmq.Channel.QueueBind(
		queue.Name,
		"", // routing key, ignored by fanout
		rabbitmq.OrderEventsExchange,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := s.rmq.Channel.Consume(
		queue.Name,
		"",    // consumer tag
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	s.logger.Info("startup", "notifier_consuming", "Consuming order events from "+rabbitmq.OrderEventsExchange)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg amqp.Delivery) {
	var event models.Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		s.logger.Error("", "event_decode_failed", "Discarding malformed event", err)
		_ = msg.Nack(false, false)
		return
	}

	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.Error("", "dispatch_failed",
			fmt.Sprintf("Failed to dispatch %s event", event.Type), err)
		// Requeue once on transient failures; the redelivered flag breaks
		// the loop on the second attempt.
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}

	_ = msg.Ack(false)
}
