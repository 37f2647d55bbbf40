package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

// queueSource hands out reqs, then returns end. A nil end blocks until the
// context is cancelled, like a live Kafka topic.
type queueSource struct {
	mu   sync.Mutex
	reqs []submission.Request
	end  error
}

func (s *queueSource) NextSubmission(ctx context.Context) (submission.Request, error) {
	s.mu.Lock()
	if len(s.reqs) > 0 {
		req := s.reqs[0]
		s.reqs = s.reqs[1:]
		s.mu.Unlock()
		return req, nil
	}
	s.mu.Unlock()

	if s.end != nil {
		return submission.Request{}, s.end
	}
	<-ctx.Done()
	return submission.Request{}, ctx.Err()
}

// slowProcessor blocks until its context ends, then spends cleanupDelay
// releasing resources before reporting.
type slowProcessor struct {
	started      chan struct{}
	cleanupDelay time.Duration
	released     atomic.Int32
}

func newSlowProcessor() *slowProcessor {
	return &slowProcessor{started: make(chan struct{}, 16), cleanupDelay: 100 * time.Millisecond}
}

func (p *slowProcessor) Process(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
	p.started <- struct{}{}
	<-ctx.Done()
	time.Sleep(p.cleanupDelay)
	p.released.Add(1)
	return nil, submission.NewError(submission.KindCanceled, req.SubmissionID, ctx.Err())
}

type instantProcessor struct{}

func (instantProcessor) Process(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
	return &submission.Outcome{SubmissionID: req.SubmissionID, Status: submission.StatusCompleted}, nil
}

func TestIntakeGroupDrainedSourceDoesNotReportFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	group := newIntakeGroup(zap.New(core))

	source := &queueSource{reqs: []submission.Request{{SubmissionID: "a"}}, end: io.EOF}
	group.start(context.Background(), "kafka", instantProcessor{}, source, 2)
	group.Wait()

	select {
	case err := <-group.Failed():
		require.Failf(t, "drained intake reported a failure", "service must keep running, got %v", err)
	default:
	}
	assert.Equal(t, 1, logs.FilterMessage("intake finished").Len())
	assert.Equal(t, 1, logs.FilterMessage("submission processed").Len())
}

func TestIntakeGroupReportsSourceFailure(t *testing.T) {
	group := newIntakeGroup(zaptest.NewLogger(t))

	group.start(context.Background(), "kafka", instantProcessor{}, &queueSource{end: errors.New("broker gone")}, 1)
	group.Wait()

	select {
	case err := <-group.Failed():
		assert.ErrorContains(t, err, "kafka intake")
		assert.ErrorContains(t, err, "broker gone")
	default:
		require.Fail(t, "expected intake failure to be reported")
	}
}

func TestShutdownWaitsForInFlightIntakeSubmissions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	processor := newSlowProcessor()

	ctx, stopIntake := context.WithCancel(context.Background())
	defer stopIntake()

	group := newIntakeGroup(logger)
	group.start(ctx, "kafka", processor, &queueSource{reqs: []submission.Request{{SubmissionID: "k1"}}}, 2)
	group.start(ctx, "directory", processor, &queueSource{reqs: []submission.Request{{SubmissionID: "d1"}}, end: io.EOF}, 2)

	for i := 0; i < 2; i++ {
		select {
		case <-processor.started:
		case <-time.After(2 * time.Second):
			require.Fail(t, "submission never started")
		}
	}

	var inflight inflightTracker
	server := &http.Server{Handler: inflight.wrap(http.NotFoundHandler())}
	shutdown(server, &inflight, stopIntake, group, logger)

	assert.Equal(t, int32(2), processor.released.Load(), "every in-flight submission must finish cleanup before shutdown returns")
}

func TestInflightTrackerWaitsForHandlers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var tracker inflightTracker
	handler := tracker.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	go handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/submissions", nil))
	<-entered

	waited := make(chan struct{})
	go func() {
		tracker.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		require.Fail(t, "Wait returned while a request was still being served")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-waited:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
