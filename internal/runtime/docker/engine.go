package docker

import (
	"fmt"

	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// Engine bundles the Docker-backed image builder, container runner and result
// extractor around one shared client.
type Engine struct {
	client    dockerClient
	builder   *ImageBuilder
	runner    *ContainerRunner
	extractor *ResultExtractor
}

// New connects to the Docker daemon described by the environment.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runtime: create client: %w", err)
	}
	return newEngineWithClient(cli, cfg, logger), nil
}

func newEngineWithClient(cli dockerClient, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		client:    cli,
		builder:   newImageBuilder(cli, cfg, logger.Named("build")),
		runner:    newContainerRunner(cli, cfg, logger.Named("run")),
		extractor: newResultExtractor(cli, logger.Named("extract")),
	}
}

func (e *Engine) ImageBuilder() *ImageBuilder       { return e.builder }
func (e *Engine) ContainerRunner() *ContainerRunner { return e.runner }
func (e *Engine) ResultExtractor() *ResultExtractor { return e.extractor }

// Close releases the Docker client.
func (e *Engine) Close() error {
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	return nil
}
