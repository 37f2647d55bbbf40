package docker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

const (
	envSubmissionID = "SUBMISSION_ID"
	envArchiveName  = "ZIP_FILE_NAME"
)

var _ ports.ContainerRunner = (*ContainerRunner)(nil)

// ContainerRunner runs each submission in a dedicated, always-removed container.
type ContainerRunner struct {
	cli    dockerClient
	cfg    Config
	logger *zap.Logger
}

func newContainerRunner(cli dockerClient, cfg Config, logger *zap.Logger) *ContainerRunner {
	return &ContainerRunner{cli: cli, cfg: cfg, logger: logger}
}

// Run creates, starts and waits for a container executing spec. When the
// container has stopped (normally or after the time limit) onExit is invoked
// while the container still exists. The container is removed before Run
// returns on every path.
//
// A returned error means the engine failed; a non-zero exit or a timeout is
// reported through the result.
func (r *ContainerRunner) Run(ctx context.Context, spec ports.RunSpec, onExit ports.ExitHook) (*submission.ExecutionResult, error) {
	spec = normalizeSpec(spec)
	if spec.ImageID == "" {
		return nil, fmt.Errorf("run: image id must be provided")
	}
	if err := submission.ValidateID(spec.SubmissionID); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	if !filepath.IsAbs(spec.ArchivePath) {
		return nil, fmt.Errorf("run: archive path %q must be absolute", spec.ArchivePath)
	}

	logger := r.logger.With(zap.String("submission_id", spec.SubmissionID))

	containerID, cleanup, err := r.createContainer(ctx, spec, logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	logger = logger.With(zap.String("container_id", containerID))

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}
	logger.Info("container started", zap.Duration("timeout", spec.Timeout))

	stdout := newCappedBuffer(r.cfg.OutputLimitBytes)
	stderr := newCappedBuffer(r.cfg.OutputLimitBytes)
	stopLogs, logsDone := r.streamLogs(containerID, stdout, stderr)
	defer stopLogs()

	waitCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	status, err := r.waitForExit(waitCtx, containerID)
	if cancel != nil {
		cancel()
	}

	result := &submission.ExecutionResult{ContainerID: containerID}
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || spec.Timeout <= 0 || ctx.Err() != nil {
			return nil, err
		}
		if err := r.stopAfterTimeLimit(containerID); err != nil {
			return nil, err
		}
		result.TimedOut = true
		result.ExitCode = submission.ExitCodeTimeout
		logger.Warn("container exceeded time limit", zap.Duration("timeout", spec.Timeout))
	} else {
		result.ExitCode = status.StatusCode
	}
	result.Duration = time.Since(start)

	r.drainLogs(logsDone, logger)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.StdoutTruncated = stdout.Truncated()
	result.StderrTruncated = stderr.Truncated()

	hookCtx := ctx
	if hookCtx.Err() != nil {
		hookCtx = context.Background()
	}

	if !result.TimedOut {
		inspect, err := r.cli.ContainerInspect(hookCtx, containerID)
		if err != nil {
			logger.Warn("inspect container", zap.Error(err))
		} else if inspect.ContainerJSONBase != nil && inspect.State != nil {
			result.OOMKilled = inspect.State.OOMKilled
		}
	}

	logger.Info("container finished",
		zap.Int64("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("oom_killed", result.OOMKilled),
		zap.Duration("duration", result.Duration))

	if onExit != nil {
		onExit(hookCtx, containerID)
	}

	return result, nil
}

func (r *ContainerRunner) createContainer(ctx context.Context, spec ports.RunSpec, logger *zap.Logger) (string, func(), error) {
	archiveName := submission.ArchiveFilename(spec.SubmissionID)

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   spec.ArchivePath,
				Target:   path.Join(r.cfg.Workdir, archiveName),
				ReadOnly: true,
			},
		},
		Resources: container.Resources{
			NanoCPUs: spec.NanoCPUs,
		},
	}
	if spec.MemoryLimitBytes > 0 {
		hostConfig.Resources.Memory = spec.MemoryLimitBytes
		hostConfig.Resources.MemorySwap = spec.MemoryLimitBytes
	}
	if spec.NetworkDisabled {
		hostConfig.NetworkMode = "none"
	}

	name := fmt.Sprintf("%s-%s-%s", containerNamePrefix, spec.SubmissionID, uuid.NewString()[:8])
	resp, err := r.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:           spec.ImageID,
			Env:             containerEnv(spec.SubmissionID, archiveName, spec.Env),
			AttachStdout:    true,
			AttachStderr:    true,
			WorkingDir:      r.cfg.Workdir,
			NetworkDisabled: spec.NetworkDisabled,
			Labels:          map[string]string{submissionLabel: spec.SubmissionID},
		},
		hostConfig,
		nil,
		nil,
		name,
	)
	if err != nil {
		return "", nil, fmt.Errorf("create container: %w", err)
	}

	cleanup := func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			logger.Warn("failed to remove container", zap.String("container_id", resp.ID), zap.Error(err))
			return
		}
		logger.Debug("container removed", zap.String("container_id", resp.ID))
	}

	return resp.ID, cleanup, nil
}

// containerEnv renders env as KEY=VALUE pairs. The submission variables always
// win over caller-supplied extras.
func containerEnv(submissionID, archiveName string, extra map[string]string) []string {
	merged := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		merged[k] = v
	}
	merged[envSubmissionID] = submissionID
	merged[envArchiveName] = archiveName

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// streamLogs follows the container's output into stdout and stderr until the
// stream ends or stop is called.
func (r *ContainerRunner) streamLogs(containerID string, stdout, stderr *cappedBuffer) (stop func(), done <-chan error) {
	logCtx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)

	go func() {
		logs, err := r.cli.ContainerLogs(logCtx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			ch <- fmt.Errorf("attach logs: %w", err)
			return
		}
		defer logs.Close()

		_, err = stdcopy.StdCopy(stdout, stderr, logs)
		ch <- err
	}()

	return cancel, ch
}

func (r *ContainerRunner) drainLogs(done <-chan error, logger *zap.Logger) {
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("log stream ended with error", zap.Error(err))
		}
	case <-time.After(r.cfg.LogDrainTimeout):
		logger.Warn("log stream did not finish after container stopped; output may be incomplete")
	}
}

func (r *ContainerRunner) stopAfterTimeLimit(containerID string) error {
	grace := int(r.cfg.StopTimeout / time.Second)
	stopCtx, cancelStop := context.WithTimeout(context.Background(), r.cfg.StopTimeout+5*time.Second)
	defer cancelStop()

	if err := r.cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &grace}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container after time limit: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelWait()

	if _, err := r.waitForExit(waitCtx, containerID); err != nil && !errors.Is(err, context.DeadlineExceeded) && !client.IsErrNotFound(err) {
		return fmt.Errorf("wait for container after time limit: %w", err)
	}
	return nil
}

func (r *ContainerRunner) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}
