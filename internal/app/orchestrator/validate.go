package orchestrator

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zip"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

func validateRequest(req submission.Request) error {
	if err := submission.ValidateID(req.SubmissionID); err != nil {
		return err
	}
	return validateArchive(req.Archive)
}

// validateArchive checks that data is a readable zip. Entry contents are not
// inspected.
func validateArchive(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("archive is empty")
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("archive is not a readable zip: %w", err)
	}
	return nil
}
