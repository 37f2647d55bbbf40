package orchestrator

import "time"

const (
	defaultResultsPath = "/workspace/src/build/reports"
	diagnosticFileName = "diagnostic.json"
)

// Config holds the per-instance settings applied to every submission.
type Config struct {
	// ImageName tags the analysis image; BuildContextDir holds its Dockerfile.
	ImageName       string
	BuildContextDir string
	// ResultsPath is the directory copied out of the container after it stops.
	ResultsPath      string
	RunTimeout       time.Duration
	MemoryLimitBytes int64
	NanoCPUs         int64
	NetworkDisabled  bool
	// Env is passed to every container in addition to the submission variables.
	Env map[string]string
}

func (c Config) withDefaults() Config {
	if c.ResultsPath == "" {
		c.ResultsPath = defaultResultsPath
	}
	return c
}
