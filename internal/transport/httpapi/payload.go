package httpapi

import (
	"encoding/base64"
	"fmt"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

const attributeSubmissionID = "submissionId"

// pushPayload is the body of a Pub/Sub push delivery.
type pushPayload struct {
	Message      pushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

type pushMessage struct {
	Data        string            `json:"data"`
	Attributes  map[string]string `json:"attributes"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime"`
}

func (p pushPayload) toRequest() (submission.Request, error) {
	if p.Message.Data == "" {
		return submission.Request{}, fmt.Errorf("message data is empty")
	}
	archive, err := base64.StdEncoding.DecodeString(p.Message.Data)
	if err != nil {
		return submission.Request{}, fmt.Errorf("message data is not valid base64: %w", err)
	}
	return submission.Request{
		SubmissionID: p.Message.Attributes[attributeSubmissionID],
		Archive:      archive,
	}, nil
}
