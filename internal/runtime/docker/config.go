package docker

import "time"

const (
	defaultWorkdir          = "/workspace"
	defaultDockerfile       = "Dockerfile"
	defaultOutputLimitBytes = 4 * 1024 * 1024 // 4 MiB per stream
	defaultStopTimeout      = 10 * time.Second
	defaultLogDrainTimeout  = 5 * time.Second
	containerNamePrefix     = "dynexec"
	submissionLabel         = "dynexec.submission"
)

// Config describes how to create a Docker-backed runtime.
type Config struct {
	// Workdir is the in-container directory the archive is mounted into.
	Workdir string
	// Dockerfile is the descriptor name inside the build context.
	Dockerfile string
	// OutputLimitBytes caps captured stdout and stderr, each.
	OutputLimitBytes int64
	// StopTimeout is the grace period given to a timed-out container before it is killed.
	StopTimeout time.Duration
	// LogDrainTimeout bounds how long to wait for log streaming after the container stopped.
	LogDrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workdir == "" {
		c.Workdir = defaultWorkdir
	}
	if c.Dockerfile == "" {
		c.Dockerfile = defaultDockerfile
	}
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = defaultOutputLimitBytes
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.LogDrainTimeout <= 0 {
		c.LogDrainTimeout = defaultLogDrainTimeout
	}
	return c
}
