package intake

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

func TestRunRespectsMaxParallel(t *testing.T) {
	t.Parallel()

	requests := []submission.Request{
		{SubmissionID: "s1"},
		{SubmissionID: "s2"},
		{SubmissionID: "s3"},
		{SubmissionID: "s4"},
	}

	maxParallel := 2
	startCh := make(chan struct{}, len(requests))
	releaseCh := make(chan struct{})
	tracker := &concurrencyTracker{}

	processor := processorFunc(func(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
		done := tracker.enter()
		defer done()
		select {
		case startCh <- struct{}{}:
		default:
		}
		select {
		case <-releaseCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &submission.Outcome{SubmissionID: req.SubmissionID, Status: submission.StatusCompleted}, nil
	})

	service := NewService(processor)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	var mu sync.Mutex
	var reports []Report

	go func() {
		errCh <- service.Run(ctx, &sequenceSource{requests: requests}, maxParallel, func(report Report) {
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		})
	}()

	for range requests {
		select {
		case <-startCh:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for submission to start")
		}
		releaseCh <- struct{}{}
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not finish")
	}

	assert.LessOrEqual(t, tracker.max(), maxParallel)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, len(requests))
	for _, report := range reports {
		require.NoError(t, report.Err)
		require.NotNil(t, report.Outcome)
		assert.Equal(t, submission.StatusCompleted, report.Outcome.Status)
	}
}

func TestRunSourceError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("source failed")
	service := NewService(processorFunc(func(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
		t.Error("unexpected process call")
		return nil, nil
	}))

	err := service.Run(context.Background(), errorSource{err: wantErr}, 1, nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestRunReportsProcessingErrors(t *testing.T) {
	t.Parallel()

	buildErr := submission.NewError(submission.KindBuild, "s1", errors.New("build failed"))
	service := NewService(processorFunc(func(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
		return &submission.Outcome{SubmissionID: req.SubmissionID, Status: submission.StatusFailed}, buildErr
	}))

	var reports []Report
	err := service.Run(context.Background(), &sequenceSource{requests: []submission.Request{{SubmissionID: "s1"}}}, 1, func(report Report) {
		reports = append(reports, report)
	})
	require.NoError(t, err, "processing errors must not stop the loop")
	require.Len(t, reports, 1)
	assert.Equal(t, "s1", reports[0].SubmissionID)
	assert.ErrorIs(t, reports[0].Err, submission.ErrBuild)
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	service := NewService(processorFunc(func(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
		t.Error("unexpected process call")
		return nil, nil
	}))
	err := service.Run(ctx, &sequenceSource{requests: []submission.Request{{SubmissionID: "s1"}}}, 1, nil)
	assert.NoError(t, err)
}

func TestRunWaitsForInFlightSubmissionsAfterCancellation(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished bool
	service := NewService(processorFunc(func(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished = true
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- service.Run(ctx, &blockingSource{sequenceSource: sequenceSource{requests: []submission.Request{{SubmissionID: "s1"}}}}, 1, nil)
	}()

	<-started
	cancel()
	require.NoError(t, <-errCh)
	assert.True(t, finished, "Run must not return before in-flight submissions finish")
}

type processorFunc func(ctx context.Context, req submission.Request) (*submission.Outcome, error)

func (f processorFunc) Process(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
	return f(ctx, req)
}

type concurrencyTracker struct {
	mu        sync.Mutex
	active    int
	maxActive int
}

func (c *concurrencyTracker) enter() func() {
	c.mu.Lock()
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}
}

func (c *concurrencyTracker) max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

type sequenceSource struct {
	requests []submission.Request
	index    int
	mu       sync.Mutex
}

func (s *sequenceSource) NextSubmission(ctx context.Context) (submission.Request, error) {
	select {
	case <-ctx.Done():
		return submission.Request{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= len(s.requests) {
		return submission.Request{}, io.EOF
	}

	req := s.requests[s.index]
	s.index++
	return req, nil
}

// blockingSource hands out requests, then waits for cancellation.
type blockingSource struct {
	sequenceSource
}

func (s *blockingSource) NextSubmission(ctx context.Context) (submission.Request, error) {
	req, err := s.sequenceSource.NextSubmission(ctx)
	if errors.Is(err, io.EOF) {
		<-ctx.Done()
		return submission.Request{}, ctx.Err()
	}
	return req, err
}

type errorSource struct {
	err error
}

func (s errorSource) NextSubmission(ctx context.Context) (submission.Request, error) {
	return submission.Request{}, s.err
}
