package submission

import (
	"fmt"
	"sync"
)

// Status is the position of a submission in the processing pipeline.
type Status string

const (
	StatusReceived   Status = "received"
	StatusImageReady Status = "image_ready"
	StatusRunning    Status = "running"
	StatusExtracting Status = "extracting"
	StatusPublishing Status = "publishing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var statusOrder = map[Status]int{
	StatusReceived:   0,
	StatusImageReady: 1,
	StatusRunning:    2,
	StatusExtracting: 3,
	StatusPublishing: 4,
	StatusCompleted:  5,
	StatusFailed:     5,
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Lifecycle enforces strictly forward status transitions.
type Lifecycle struct {
	mu      sync.Mutex
	current Status
	history []Status
}

// NewLifecycle starts a lifecycle in StatusReceived.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		current: StatusReceived,
		history: []Status{StatusReceived},
	}
}

// Advance moves to next. Moving backwards, staying in place or leaving a
// terminal status is an error. Failed is reachable from any non-terminal status.
func (l *Lifecycle) Advance(next Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current.Terminal() {
		return fmt.Errorf("submission already %s, cannot move to %s", l.current, next)
	}
	rank, ok := statusOrder[next]
	if !ok {
		return fmt.Errorf("unknown status %q", next)
	}
	if rank <= statusOrder[l.current] {
		return fmt.Errorf("status cannot move from %s back to %s", l.current, next)
	}

	l.current = next
	l.history = append(l.history, next)
	return nil
}

// Current returns the latest status.
func (l *Lifecycle) Current() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// History returns every status visited, in order.
func (l *Lifecycle) History() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.history...)
}
