package resultbundle

import (
	"encoding/json"
	"fmt"
	"time"
)

// HeaderSubmissionID names the transport header carrying the submission id.
const HeaderSubmissionID = "submissionId"

// Envelope is the message body published for every processed submission.
// Archive is base64 encoded by encoding/json.
type Envelope struct {
	SubmissionID string    `json:"submission_id"`
	Archive      []byte    `json:"archive"`
	Files        int       `json:"files"`
	PublishedAt  time.Time `json:"published_at"`
}

// Encode zips dir and wraps it in an Envelope for submissionID.
func Encode(submissionID, dir string, now time.Time) ([]byte, error) {
	bundle, err := Zip(dir)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(Envelope{
		SubmissionID: submissionID,
		Archive:      bundle.Data,
		Files:        bundle.Files,
		PublishedAt:  now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return payload, nil
}
