package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

// diagnostic replaces the results directory contents when extraction fell back.
type diagnostic struct {
	SubmissionID string `json:"submission_id"`
	GeneratedAt  string `json:"generated_at"`
	Reason       string `json:"reason"`
	ExitCode     int64  `json:"exit_code"`
	TimedOut     bool   `json:"timed_out"`
}

// writeDiagnostic clears any partial output in resultsDir and writes the
// fallback artifact.
func writeDiagnostic(resultsDir, submissionID, reason string, result *submission.ExecutionResult, now time.Time) error {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return fmt.Errorf("read results dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(resultsDir, entry.Name())); err != nil {
			return fmt.Errorf("clear partial results: %w", err)
		}
	}

	record := diagnostic{
		SubmissionID: submissionID,
		GeneratedAt:  now.UTC().Format(time.RFC3339),
		Reason:       reason,
		ExitCode:     submission.ExitCodeUnknown,
	}
	if result != nil {
		record.ExitCode = result.ExitCode
		record.TimedOut = result.TimedOut
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode diagnostic: %w", err)
	}
	if err := os.WriteFile(filepath.Join(resultsDir, diagnosticFileName), data, 0o644); err != nil {
		return fmt.Errorf("write diagnostic: %w", err)
	}
	return nil
}
