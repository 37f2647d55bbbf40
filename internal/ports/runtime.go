package ports

import (
	"context"
	"time"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
)

// ImageBuilder builds the analysis image from a build context directory.
type ImageBuilder interface {
	Build(ctx context.Context, imageName, contextPath string) (string, error)
}

// ImageProvider returns a ready image, building it when necessary.
type ImageProvider interface {
	Ensure(ctx context.Context, imageName, contextPath string) (string, error)
}

// RunSpec describes a single isolated container run.
type RunSpec struct {
	ImageID      string
	SubmissionID string
	// ArchivePath is the host path of the submission archive, mounted read-only.
	ArchivePath      string
	Env              map[string]string
	Timeout          time.Duration
	MemoryLimitBytes int64
	NanoCPUs         int64
	NetworkDisabled  bool
}

// ExitHook runs after the container stopped and before it is removed.
type ExitHook func(ctx context.Context, containerID string)

// ContainerRunner executes one submission in its own container.
type ContainerRunner interface {
	Run(ctx context.Context, spec RunSpec, onExit ExitHook) (*submission.ExecutionResult, error)
}

// ResultExtractor copies result artifacts out of a stopped container.
type ResultExtractor interface {
	Extract(ctx context.Context, containerID, containerPath, hostDir, scratchDir string) submission.Extraction
}
