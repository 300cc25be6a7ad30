package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finboost/rewards-service/internal/store"
	"github.com/finboost/rewards-service/pkg/rabbitmq"
	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// PublisherFactory opens a broker connection on demand.
type PublisherFactory func() (rabbitmq.Publisher, error)

// OutboxDispatcher publishes committed payout events to RabbitMQ.
type OutboxDispatcher struct {
	repo                OutboxRepository
	newPublisher        PublisherFactory
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            rabbitmq.Publisher
	log                 logrus.FieldLogger
	done                chan struct{}
}

func NewOutboxDispatcher(repo OutboxRepository, newPublisher PublisherFactory, pollInterval time.Duration, log logrus.FieldLogger) *OutboxDispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &OutboxDispatcher{
		repo:                repo,
		newPublisher:        newPublisher,
		batchSize:           defaultBatchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
		log:                 log.WithField("component", "outbox_dispatcher"),
		done:                make(chan struct{}),
	}
}

// Run polls the outbox until ctx is cancelled. Done is closed once it returns.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer close(d.done)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				d.log.WithError(err).Warn("outbox flush error")
			}
		}
	}
}

// Done is closed after Run has closed the producer and returned.
func (d *OutboxDispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			d.log.WithError(err).WithFields(logrus.Fields{
				"outbox_id":   message.ID,
				"attempts":    message.Attempts,
				"retry_after": retryAfter,
			}).Warn("outbox publish failed")
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.log.WithError(markErr).WithField("outbox_id", message.ID).Error("failed to mark outbox message as failed")
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.log.WithError(err).WithField("outbox_id", message.ID).Error("failed to mark outbox message as published")
		}
	}
	return nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.newPublisher()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	var payload json.RawMessage
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return err
	}

	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, payload); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
