// Package amqp publishes result bundles to a RabbitMQ queue.
package amqp

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/resultbundle"
)

var _ ports.ResultPublisher = (*Publisher)(nil)

// Config configures the AMQP result publisher.
type Config struct {
	URL   string
	Queue string
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher writes one persistent message per submission to a durable queue.
type Publisher struct {
	conn  *amqp.Connection
	ch    channel
	queue string
	now   func() time.Time
}

// NewPublisher dials the broker and declares the results queue.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url must be provided")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue must be provided")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := newPublisher(ch, cfg.Queue)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, queue string) (*Publisher, error) {
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &Publisher{ch: ch, queue: q.Name, now: time.Now}, nil
}

// Publish zips resultsDir and sends it to the results queue.
func (p *Publisher) Publish(ctx context.Context, submissionID, resultsDir string) error {
	now := p.now()
	payload, err := resultbundle.Encode(submissionID, resultsDir, now)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    submissionID,
		Timestamp:    now,
		Headers:      amqp.Table{resultbundle.HeaderSubmissionID: submissionID},
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = fmt.Errorf("close channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection: %w", err)
		}
	}
	return firstErr
}
