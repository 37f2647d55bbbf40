//go:build integration

package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	brokerWaitInterval = 500 * time.Millisecond
	brokerWaitTimeout  = 30 * time.Second
)

// WaitForKafkaBroker blocks until the broker accepts connections or the context ends.
func WaitForKafkaBroker(ctx context.Context, broker string) error {
	deadline := time.Now().Add(brokerWaitTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	for time.Now().Before(deadline) {
		conn, err := kafkago.Dial("tcp", broker)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-time.After(brokerWaitInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("kafka broker %q not ready before timeout", broker)
}

// EnsureKafkaTopics creates every topic that does not exist yet.
func EnsureKafkaTopics(ctx context.Context, broker string, topics ...string) error {
	conn, err := kafkago.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafkago.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrlConn.Close()

	configs := make([]kafkago.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	return ctrlConn.CreateTopics(configs...)
}

// ProduceSubmission writes a submission message in the intake wire format.
func ProduceSubmission(ctx context.Context, broker, topic, submissionID string, archive []byte) error {
	payload, err := json.Marshal(map[string]any{
		"submission_id": submissionID,
		"archive":       archive,
	})
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(broker),
		Topic:    topic,
		Balancer: &kafkago.LeastBytes{},
	}
	defer writer.Close()

	if err := writer.WriteMessages(ctx, kafkago.Message{Key: []byte(submissionID), Value: payload}); err != nil {
		return fmt.Errorf("write submission: %w", err)
	}
	return nil
}

// ReadOne reads the first message on topic using a fresh consumer group.
func ReadOne(ctx context.Context, broker, topic, groupID string) (kafkago.Message, error) {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafkago.FirstOffset,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("read %s: %w", topic, err)
	}
	return msg, nil
}
