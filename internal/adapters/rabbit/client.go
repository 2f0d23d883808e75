// Package rabbit carries payment completion events over AMQP so confirmation side effects
// run outside the request that completed the payment.
package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"eventpayments/internal/domain"
)

// RoutingKeyPaymentCompleted routes completion events to the notification queue.
const RoutingKeyPaymentCompleted = "payment.completed"

const publishTimeout = 3 * time.Second

// channel is the subset of *amqp.Channel used here.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Client owns one AMQP connection and channel bound to a durable direct exchange and queue.
type Client struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	queue    string
	logger   *slog.Logger
}

// Dial connects to url and declares exchange, queue and binding.
func Dial(url, exchange, queue string, logger *slog.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, RoutingKeyPaymentCompleted, exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	return &Client{conn: conn, ch: ch, exchange: exchange, queue: queue, logger: logger}, nil
}

func newClient(ch channel, exchange, queue string, logger *slog.Logger) *Client {
	return &Client{ch: ch, exchange: exchange, queue: queue, logger: logger}
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// PaymentCompleted publishes evt as a persistent JSON message. It implements domain.PaymentNotifier.
func (c *Client) PaymentCompleted(ctx context.Context, evt domain.PaymentCompletedEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode payment event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = c.ch.PublishWithContext(ctx, c.exchange, RoutingKeyPaymentCompleted, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.PaymentID,
		Timestamp:    evt.CompletedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish payment event: %w", err)
	}
	return nil
}

// Consume delivers queued completion events to handle until ctx is cancelled or the
// delivery channel closes. A failed delivery is requeued once, then dropped.
func (c *Client) Consume(ctx context.Context, handle func(context.Context, domain.PaymentCompletedEvent) error) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.dispatch(ctx, d, handle)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, d amqp.Delivery, handle func(context.Context, domain.PaymentCompletedEvent) error) {
	var evt domain.PaymentCompletedEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		c.logger.ErrorContext(ctx, "dropping malformed payment event", "message_id", d.MessageId, "err", err)
		c.settle(ctx, d, "nack", d.Nack(false, false))
		return
	}
	if err := handle(ctx, evt); err != nil {
		requeue := !d.Redelivered
		c.logger.ErrorContext(ctx, "payment event handler failed", "payment_id", evt.PaymentID, "requeue", requeue, "err", err)
		c.settle(ctx, d, "nack", d.Nack(false, requeue))
		return
	}
	c.settle(ctx, d, "ack", d.Ack(false))
}

// settle logs a failed ack or nack. The broker redelivers unsettled messages once the
// channel closes, so there is nothing else to do here.
func (c *Client) settle(ctx context.Context, d amqp.Delivery, op string, err error) {
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to settle payment event", "op", op,
			"delivery_tag", d.DeliveryTag, "message_id", d.MessageId, "err", err)
	}
}
