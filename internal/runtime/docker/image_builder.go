package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/jsonmessage"
	archive "github.com/docker/docker/pkg/archive"
	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

var _ ports.ImageBuilder = (*ImageBuilder)(nil)

// ImageBuilder builds images from a build context directory on the host.
type ImageBuilder struct {
	cli        dockerClient
	dockerfile string
	logger     *zap.Logger
}

func newImageBuilder(cli dockerClient, cfg Config, logger *zap.Logger) *ImageBuilder {
	return &ImageBuilder{
		cli:        cli,
		dockerfile: cfg.Dockerfile,
		logger:     logger,
	}
}

// Build tags the image built from contextPath as imageName and returns its id.
// Progress lines are logged at debug level.
func (b *ImageBuilder) Build(ctx context.Context, imageName, contextPath string) (string, error) {
	if imageName == "" {
		return "", fmt.Errorf("image name must be provided")
	}
	info, err := os.Stat(contextPath)
	if err != nil {
		return "", fmt.Errorf("build context: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("build context %s is not a directory", contextPath)
	}
	if _, err := os.Stat(filepath.Join(contextPath, b.dockerfile)); err != nil {
		return "", fmt.Errorf("build context %s: %w", contextPath, err)
	}

	buildContext, err := archive.TarWithOptions(contextPath, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("archive build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := b.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{imageName},
		Dockerfile:  b.dockerfile,
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
	})
	if err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()

	imageID, err := b.consumeProgress(resp.Body)
	if err != nil {
		return "", err
	}
	if imageID != "" {
		return imageID, nil
	}

	inspect, _, err := b.cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		return "", fmt.Errorf("inspect built image %s: %w", imageName, err)
	}
	return inspect.ID, nil
}

// consumeProgress drains the build output, returning the image id announced
// by the daemon if any. The first error entry fails the build.
func (b *ImageBuilder) consumeProgress(body io.Reader) (string, error) {
	dec := json.NewDecoder(body)
	var imageID string
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return imageID, nil
			}
			return "", fmt.Errorf("read build output: %w", err)
		}

		if msg.Error != nil {
			return "", fmt.Errorf("image build: %s", msg.Error.Message)
		}
		if msg.ErrorMessage != "" {
			return "", fmt.Errorf("image build: %s", msg.ErrorMessage)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			b.logger.Debug("docker build", zap.String("line", line))
		}
		if msg.Aux != nil {
			var aux struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.ID != "" {
				imageID = aux.ID
			}
		}
	}
}
