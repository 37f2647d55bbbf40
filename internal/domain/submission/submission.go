package submission

import (
	"fmt"
	"regexp"
)

// MaxIDLength bounds submission identifiers so derived container names stay valid.
const MaxIDLength = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Request is one inbound grading request as decoded by a transport.
type Request struct {
	SubmissionID string
	Archive      []byte
}

// ValidateID reports whether id is safe for use in file and container names.
// Invalid identifiers are rejected rather than sanitized.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("submission id is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("submission id exceeds %d characters", MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("submission id %q contains characters outside [A-Za-z0-9_.-]", id)
	}
	return nil
}

// ArchiveFilename is the name the archive carries on disk and inside the container.
func ArchiveFilename(id string) string {
	return id + ".zip"
}
