package ports

import (
	"context"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

// SubmissionSource yields inbound submissions, returning io.EOF when exhausted.
type SubmissionSource interface {
	NextSubmission(ctx context.Context) (submission.Request, error)
}

// SubmissionProcessor runs one submission end to end.
type SubmissionProcessor interface {
	Process(ctx context.Context, req submission.Request) (*submission.Outcome, error)
}
