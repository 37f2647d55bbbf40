package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

// Config describes how to connect to a Kafka cluster for consuming submissions.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

var _ ports.SubmissionSource = (*Consumer)(nil)

// Consumer wraps a kafka-go reader to implement ports.SubmissionSource.
type Consumer struct {
	reader messageReader
	logger *zap.Logger
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// NewConsumer builds a new Consumer from the provided configuration.
func NewConsumer(cfg Config, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "dynexec"
	}

	readerConfig := kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	}

	if readerConfig.MinBytes == 0 {
		readerConfig.MinBytes = 1
	}
	if readerConfig.MaxBytes == 0 {
		readerConfig.MaxBytes = 64 * 1024 * 1024
	}
	if readerConfig.MaxWait == 0 {
		readerConfig.MaxWait = time.Second
	}

	return newConsumer(kafkago.NewReader(readerConfig), logger), nil
}

func newConsumer(reader messageReader, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, logger: logger}
}

// NextSubmission blocks until the next submission message is available in Kafka
// or the context is cancelled. Malformed messages are logged and skipped.
func (c *Consumer) NextSubmission(ctx context.Context) (submission.Request, error) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return submission.Request{}, err
		}

		req, err := decodeSubmissionMessage(msg)
		if err == nil {
			return req, nil
		}
		if errors.Is(err, io.EOF) {
			return submission.Request{}, err
		}
		c.logger.Warn("skipping malformed submission message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
