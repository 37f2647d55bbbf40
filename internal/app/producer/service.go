package producer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/resultbundle"
)

const archiveExt = ".zip"

type entry struct {
	id   string
	path string
	dir  bool
	req  *submission.Request
}

// Service implements ports.SubmissionSource over a local directory. Every
// "<id>.zip" file and every subdirectory "<id>" becomes one submission,
// yielded in lexical order. Subdirectories are zipped when they are reached.
type Service struct {
	mu      sync.Mutex
	entries []entry
	index   int
}

var _ ports.SubmissionSource = (*Service)(nil)

// NewService scans root once and queues what it finds. Other files are ignored.
func NewService(root string) (*Service, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read submissions directory: %w", err)
	}

	svc := &Service{}
	for _, de := range dirEntries {
		name := de.Name()
		switch {
		case de.IsDir():
			svc.entries = append(svc.entries, entry{id: name, path: filepath.Join(root, name), dir: true})
		case de.Type().IsRegular() && strings.HasSuffix(name, archiveExt):
			svc.entries = append(svc.entries, entry{id: strings.TrimSuffix(name, archiveExt), path: filepath.Join(root, name)})
		}
	}
	sort.Slice(svc.entries, func(i, j int) bool { return svc.entries[i].id < svc.entries[j].id })

	return svc, nil
}

// Pending reports how many submissions have not been handed out yet.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries) - s.index
}

// NextSubmission returns the next queued submission or io.EOF once drained.
func (s *Service) NextSubmission(ctx context.Context) (submission.Request, error) {
	select {
	case <-ctx.Done():
		return submission.Request{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	if s.index >= len(s.entries) {
		s.mu.Unlock()
		return submission.Request{}, io.EOF
	}
	next := s.entries[s.index]
	s.index++
	s.mu.Unlock()

	return next.load()
}

// AddSubmission queues an in-memory request behind the scanned entries.
func (s *Service) AddSubmission(req submission.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry{id: req.SubmissionID, req: &req})
}

func (e entry) load() (submission.Request, error) {
	switch {
	case e.req != nil:
		return *e.req, nil
	case e.dir:
		bundle, err := resultbundle.Zip(e.path)
		if err != nil {
			return submission.Request{}, fmt.Errorf("zip submission %s: %w", e.id, err)
		}
		return submission.Request{SubmissionID: e.id, Archive: bundle.Data}, nil
	default:
		data, err := os.ReadFile(e.path)
		if err != nil {
			return submission.Request{}, fmt.Errorf("read submission %s: %w", e.id, err)
		}
		return submission.Request{SubmissionID: e.id, Archive: data}, nil
	}
}
