package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

// Report is produced for every submission pulled from a source.
type Report struct {
	SubmissionID string
	Outcome      *submission.Outcome
	Err          error
}

// Service feeds submissions from a source into a processor.
type Service struct {
	processor ports.SubmissionProcessor
}

// NewService constructs a Service with the provided processor dependency.
func NewService(processor ports.SubmissionProcessor) *Service {
	return &Service{processor: processor}
}

// Run pulls submissions from source and processes them with bounded parallelism.
//
// It keeps consuming until the context is cancelled or the source signals
// completion via io.EOF, then waits for in-flight submissions to finish.
//
// When onReport is provided it is invoked after every processed submission.
func (s *Service) Run(
	ctx context.Context,
	source ports.SubmissionSource,
	maxParallel int,
	onReport func(Report),
) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)

	finish := func(err error) error {
		wg.Wait()
		return err
	}

	for {
		req, err := source.NextSubmission(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return finish(nil)
			}

			return finish(fmt.Errorf("get next submission: %w", err))
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return finish(nil)
		}
		wg.Add(1)
		go func(req submission.Request) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := s.processor.Process(ctx, req)
			if onReport != nil {
				onReport(Report{SubmissionID: req.SubmissionID, Outcome: outcome, Err: err})
			}
		}(req)
	}
}
