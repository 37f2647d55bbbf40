package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/resultbundle"
)

// Ensure Publisher implements ports.ResultPublisher.
var _ ports.ResultPublisher = (*Publisher)(nil)

// PublisherConfig configures the Kafka-based result publisher.
type PublisherConfig struct {
	Brokers []string
	Topic   string
}

// Publisher publishes zipped result directories to Kafka.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher constructs a Publisher using the supplied configuration.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		BatchBytes:             64 * 1024 * 1024,
	}

	return newPublisher(writer), nil
}

func newPublisher(writer messageWriter) *Publisher {
	return &Publisher{writer: writer, now: time.Now}
}

// Publish zips resultsDir and writes it to Kafka keyed by submission id.
func (p *Publisher) Publish(ctx context.Context, submissionID, resultsDir string) error {
	if p.writer == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	now := p.now()
	payload, err := resultbundle.Encode(submissionID, resultsDir, now)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:     []byte(submissionID),
		Value:   payload,
		Headers: []kafkago.Header{{Key: resultbundle.HeaderSubmissionID, Value: []byte(submissionID)}},
		Time:    now,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// Close releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
