package kafka

import (
	"encoding/json"
	"fmt"
	"io"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

const (
	messageTypeSubmission = "submission"
	messageTypeDone       = "done"
)

// submissionEnvelope is the inbound message body. Archive is base64 in JSON.
type submissionEnvelope struct {
	Type         string `json:"type,omitempty"`
	SubmissionID string `json:"submission_id"`
	Archive      []byte `json:"archive"`
}

func decodeSubmissionMessage(msg kafkago.Message) (submission.Request, error) {
	var envelope submissionEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return submission.Request{}, fmt.Errorf("decode message: %w", err)
	}

	msgType := envelope.Type
	if msgType == "" {
		msgType = messageTypeSubmission
	}

	switch msgType {
	case messageTypeSubmission:
		return envelope.toRequest(msg)
	case messageTypeDone:
		return submission.Request{}, io.EOF
	default:
		return submission.Request{}, fmt.Errorf("unknown message type %q", msgType)
	}
}

func (e submissionEnvelope) toRequest(msg kafkago.Message) (submission.Request, error) {
	if len(e.Archive) == 0 {
		return submission.Request{}, fmt.Errorf("submission message missing archive")
	}

	id := e.SubmissionID
	if id == "" {
		id = headerValue(msg, "submissionId")
	}
	if id == "" {
		id = string(msg.Key)
	}

	return submission.Request{SubmissionID: id, Archive: e.Archive}, nil
}

func headerValue(msg kafkago.Message, key string) string {
	for _, header := range msg.Headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return ""
}
