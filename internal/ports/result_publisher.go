package ports

import "context"

// ResultPublisher delivers a directory of result artifacts downstream.
type ResultPublisher interface {
	Publish(ctx context.Context, submissionID, resultsDir string) error
	Close() error
}
