package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	retryCountHeader       = "x-retry-count"
	originalRoutingHeader  = "x-original-routing-key"
	defaultMaxRedeliveries = 5
)

// Handler processes one delivery. Returning false retries the message until
// MaxRedeliveries is reached; after that it is moved to the dead-letter queue.
type Handler func(body []byte) bool

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  logrus.FieldLogger

	// MaxRedeliveries caps handler failures per message.
	MaxRedeliveries int
}

func NewConsumer(amqpURL string, log logrus.FieldLogger) (*Consumer, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{
		conn:            conn,
		ch:              ch,
		log:             log.WithField("component", "rabbitmq_consumer"),
		MaxRedeliveries: defaultMaxRedeliveries,
	}, nil
}

// ConsumeWithBindings declares a durable queue bound to exchange for every
// routing key in bindings and dispatches deliveries in a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	dead, err := c.ch.QueueDeclare(DeadLetterQueue(queueName), true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	if err := c.ch.Qos(10, 0, false); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			handler, ok := handlers[d.RoutingKey]
			if !ok {
				c.log.WithField("routing_key", d.RoutingKey).Warn("no handler for routing key; dropping")
				d.Ack(false)
				continue
			}
			if handler(d.Body) {
				d.Ack(false)
				continue
			}
			c.retry(d, q.Name, dead.Name)
		}
	}()

	return nil
}

// DeadLetterQueue names the queue that holds messages whose handler kept failing.
func DeadLetterQueue(queueName string) string {
	return queueName + ".dead"
}

// retry republishes a failed delivery with its attempt count, or parks it on
// the dead-letter queue once the budget is spent. The original delivery is
// only acked after the copy is published.
func (c *Consumer) retry(d amqp.Delivery, queueName, deadQueue string) {
	attempt, exhausted := nextAttempt(d.Headers, c.MaxRedeliveries)
	logger := c.log.WithFields(logrus.Fields{"routing_key": d.RoutingKey, "attempt": attempt})

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(attempt)
	if _, ok := headers[originalRoutingHeader]; !ok {
		headers[originalRoutingHeader] = d.RoutingKey
	}

	target := queueName
	if exhausted {
		target = deadQueue
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.ch.PublishWithContext(ctx, "", target, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		logger.WithError(err).Error("failed to republish message; re-queuing")
		d.Nack(false, true)
		return
	}
	d.Ack(false)

	if exhausted {
		logger.WithField("queue", deadQueue).Error("handler kept failing; message dead-lettered")
		return
	}
	logger.Warn("handler failed; retrying")
}

// nextAttempt returns the attempt number of the failure just seen and whether
// it used up the retry budget.
func nextAttempt(headers amqp.Table, max int) (int, bool) {
	if max <= 0 {
		max = defaultMaxRedeliveries
	}
	attempt := retryCount(headers) + 1
	return attempt, attempt >= max
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	default:
		return 0
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
