package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	exchangeName = "followup"
	delayedQueue = "followup.delayed"
	readyQueue   = "followup.ready"
	delayedKey   = "delayed"
	readyKey     = "ready"

	// Failed handler invocations are redelivered through the delayed queue
	// with this backoff, at most maxDeliveries times in total.
	redeliveryDelay = 30 * time.Second
	maxDeliveries   = 5

	attemptsHeader = "x-attempts"
)

// RabbitGateway implements Gateway on RabbitMQ. Delay is realized with a
// per-message TTL on a delayed queue whose dead-letter routing feeds the
// ready queue; a consumer on the ready queue invokes the executor. TTL-based
// delay expires messages from the head of the queue, so a mixed backlog may
// deliver a later message slightly late. Delivery is at-or-after, never early.
type RabbitGateway struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger zerolog.Logger
}

func NewRabbitGateway(url string, logger zerolog.Logger) (*RabbitGateway, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	g := &RabbitGateway{conn: conn, ch: ch, logger: logger}
	if err := g.declareTopology(); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *RabbitGateway) declareTopology() error {
	if err := g.ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err := g.ch.QueueDeclare(delayedQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    exchangeName,
		"x-dead-letter-routing-key": readyKey,
	})
	if err != nil {
		return fmt.Errorf("declare delayed queue: %w", err)
	}
	if err := g.ch.QueueBind(delayedQueue, delayedKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind delayed queue: %w", err)
	}

	if _, err := g.ch.QueueDeclare(readyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare ready queue: %w", err)
	}
	if err := g.ch.QueueBind(readyQueue, readyKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind ready queue: %w", err)
	}
	return nil
}

func (g *RabbitGateway) Enqueue(ctx context.Context, channel string, itemID uuid.UUID, when time.Time) (string, error) {
	msg := Message{
		MessageID: uuid.New().String(),
		Channel:   channel,
		ItemID:    itemID,
		FireAt:    when,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal queue message: %w", err)
	}

	delay := time.Until(when)
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Body:         body,
	}

	key := readyKey
	if delay > 0 {
		key = delayedKey
		pub.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	if err := g.ch.PublishWithContext(ctx, exchangeName, key, false, false, pub); err != nil {
		return "", fmt.Errorf("publish dispatch message: %w", err)
	}

	g.logger.Debug().
		Str("message_id", msg.MessageID).
		Str("channel", channel).
		Str("item_id", itemID.String()).
		Time("fire_at", when).
		Msg("dispatch message enqueued")

	return msg.MessageID, nil
}

// StartConsumer consumes the ready queue and invokes fn for each delivery.
// Handled messages are acked. A handler error republishes the message through
// the delayed queue with a backoff and an incremented attempt header; after
// maxDeliveries attempts the message is dropped with an error log so a poison
// message cannot loop forever. The executor's status guard makes any duplicate
// delivery a no-op.
func (g *RabbitGateway) StartConsumer(ctx context.Context, fn DispatchFunc) error {
	deliveries, err := g.ch.Consume(readyQueue, "followup-executor", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal(d.Body, &msg); err != nil {
					g.logger.Error().Err(err).Msg("malformed dispatch message dropped")
					d.Ack(false)
					continue
				}
				if err := fn(ctx, msg.Channel, msg.ItemID); err != nil {
					g.redeliver(ctx, d, msg, err)
					continue
				}
				d.Ack(false)
			}
		}
	}()

	g.logger.Info().Msg("dispatch consumer started")
	return nil
}

// redeliver acks the failed delivery and republishes it with a backoff, or
// drops it once the attempt budget is spent. The original delivery is always
// acked; a nack with requeue would spin a poison message through the broker
// with no backoff and no limit.
func (g *RabbitGateway) redeliver(ctx context.Context, d amqp.Delivery, msg Message, cause error) {
	attempt := deliveryAttempt(d.Headers) + 1
	if attempt >= maxDeliveries {
		g.logger.Error().Err(cause).
			Str("item_id", msg.ItemID.String()).
			Str("message_id", msg.MessageID).
			Int("attempts", attempt).
			Msg("dispatch handler failed, message dropped after max deliveries")
		d.Ack(false)
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Expiration:   strconv.FormatInt(redeliveryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{attemptsHeader: int32(attempt)},
		Body:         d.Body,
	}
	if err := g.ch.PublishWithContext(ctx, exchangeName, delayedKey, false, false, pub); err != nil {
		// Republish failed; leave the message to the broker so it is not lost.
		g.logger.Error().Err(err).
			Str("item_id", msg.ItemID.String()).
			Msg("redelivery publish failed, requeueing in place")
		d.Nack(false, true)
		return
	}

	g.logger.Warn().Err(cause).
		Str("item_id", msg.ItemID.String()).
		Int("attempt", attempt).
		Msg("dispatch handler failed, redelivery scheduled")
	d.Ack(false)
}

// deliveryAttempt reads the attempt counter from a delivery's headers.
// A message published by Enqueue carries no header and counts as attempt 0.
func deliveryAttempt(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch n := headers[attemptsHeader].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func (g *RabbitGateway) Close() error {
	if g.ch != nil {
		g.ch.Close()
	}
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
