package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/app/intake"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

// intakeGroup runs background intake loops and tracks them until Wait returns.
// A loop that drains its source logs and exits; only a failing loop is
// reported on Failed.
type intakeGroup struct {
	wg     sync.WaitGroup
	failed chan error
	logger *zap.Logger
}

func newIntakeGroup(logger *zap.Logger) *intakeGroup {
	return &intakeGroup{failed: make(chan error, 1), logger: logger}
}

func (g *intakeGroup) start(ctx context.Context, name string, processor ports.SubmissionProcessor, source ports.SubmissionSource, maxParallel int) {
	logger := g.logger.Named(name)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		err := intake.NewService(processor).Run(ctx, source, maxParallel, reportLogger(logger))
		if err != nil {
			logger.Error("intake stopped", zap.Error(err))
			select {
			case g.failed <- fmt.Errorf("%s intake: %w", name, err):
			default:
			}
			return
		}
		logger.Info("intake finished")
	}()
}

// Failed yields the first intake error.
func (g *intakeGroup) Failed() <-chan error {
	return g.failed
}

// Wait blocks until every loop and its in-flight submissions have returned.
func (g *intakeGroup) Wait() {
	g.wg.Wait()
}

// inflightTracker counts HTTP requests still being served so shutdown can
// wait for their cleanup after the server stops accepting work.
type inflightTracker struct {
	wg sync.WaitGroup
}

func (t *inflightTracker) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.wg.Add(1)
		defer t.wg.Done()
		next.ServeHTTP(w, r)
	})
}

func (t *inflightTracker) Wait() {
	t.wg.Wait()
}
