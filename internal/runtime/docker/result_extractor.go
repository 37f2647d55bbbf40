package docker

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/docker/docker/client"
	archive "github.com/docker/docker/pkg/archive"
	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

var _ ports.ResultExtractor = (*ResultExtractor)(nil)

// ResultExtractor copies a result directory out of a stopped container.
type ResultExtractor struct {
	cli    dockerClient
	logger *zap.Logger
}

func newResultExtractor(cli dockerClient, logger *zap.Logger) *ResultExtractor {
	return &ResultExtractor{cli: cli, logger: logger}
}

// Extract copies containerPath into hostDir. scratchDir holds the transfer
// archive and the staging tree; both are removed before returning. Failures are
// reported as a fallback outcome, never as an error.
func (e *ResultExtractor) Extract(ctx context.Context, containerID, containerPath, hostDir, scratchDir string) submission.Extraction {
	logger := e.logger.With(zap.String("container_id", containerID), zap.String("path", containerPath))

	files, err := e.extract(ctx, containerID, containerPath, hostDir, scratchDir)
	if err != nil {
		reason := err.Error()
		if client.IsErrNotFound(err) {
			reason = "results path not found"
		}
		logger.Warn("result extraction fell back", zap.String("reason", reason))
		return submission.FallBack(reason)
	}
	if files == 0 {
		logger.Warn("result extraction fell back", zap.String("reason", "results path is empty"))
		return submission.FallBack("results path is empty")
	}

	logger.Info("results extracted", zap.Int("files", files))
	return submission.ExtractedFiles(files)
}

func (e *ResultExtractor) extract(ctx context.Context, containerID, containerPath, hostDir, scratchDir string) (int, error) {
	reader, stat, err := e.cli.CopyFromContainer(ctx, containerID, containerPath)
	if err != nil {
		return 0, fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(scratchDir, "results-*.tar")
	if err != nil {
		return 0, fmt.Errorf("create transfer file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, reader); err != nil {
		return 0, fmt.Errorf("receive results archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind results archive: %w", err)
	}

	staging, err := os.MkdirTemp(scratchDir, "staging-")
	if err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := archive.Untar(tmp, staging, &archive.TarOptions{NoLchown: true}); err != nil {
		return 0, fmt.Errorf("unpack results archive: %w", err)
	}

	name := stat.Name
	if name == "" {
		name = path.Base(containerPath)
	}
	copied := filepath.Join(staging, filepath.FromSlash(name))

	info, err := os.Stat(copied)
	if err != nil {
		return 0, fmt.Errorf("locate copied results: %w", err)
	}
	if !info.IsDir() {
		if err := os.Rename(copied, filepath.Join(hostDir, info.Name())); err != nil {
			return 0, fmt.Errorf("move result file: %w", err)
		}
		return 1, nil
	}

	entries, err := os.ReadDir(copied)
	if err != nil {
		return 0, fmt.Errorf("read copied results: %w", err)
	}
	for _, entry := range entries {
		if err := os.Rename(filepath.Join(copied, entry.Name()), filepath.Join(hostDir, entry.Name())); err != nil {
			return 0, fmt.Errorf("move %s: %w", entry.Name(), err)
		}
	}

	return countRegularFiles(hostDir)
}

func countRegularFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return count, nil
}
