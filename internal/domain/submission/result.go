package submission

import "time"

const (
	// ExitCodeUnknown is reported when the engine never produced an exit status.
	ExitCodeUnknown int64 = -1
	// ExitCodeTimeout is reported when the run was stopped after exceeding its time limit.
	ExitCodeTimeout int64 = -2
)

// ExecutionResult captures the outcome of one container run.
type ExecutionResult struct {
	ExitCode        int64
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	OOMKilled       bool
	// ContainerID is only meaningful until the container is removed.
	ContainerID string
	Duration    time.Duration
}

// Succeeded reports whether the submission's own test run passed.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

// ExtractionOutcome tags how the results directory was populated.
type ExtractionOutcome string

const (
	Extracted ExtractionOutcome = "extracted"
	FellBack  ExtractionOutcome = "fell_back"
)

// Extraction describes the result of copying artifacts out of a container.
type Extraction struct {
	Outcome ExtractionOutcome
	// Reason explains a fallback; empty when Outcome is Extracted.
	Reason string
	Files  int
}

// ExtractedFiles builds a successful extraction record.
func ExtractedFiles(files int) Extraction {
	return Extraction{Outcome: Extracted, Files: files}
}

// FallBack builds a fallback extraction record.
func FallBack(reason string) Extraction {
	return Extraction{Outcome: FellBack, Reason: reason}
}

// Outcome is what the orchestrator reports for a processed submission.
type Outcome struct {
	SubmissionID string
	Status       Status
	Execution    *ExecutionResult
	Extraction   Extraction
}
