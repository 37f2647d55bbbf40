package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDockerClient struct {
	mu           sync.Mutex
	nextID       int
	buildCalls   []imageBuildCall
	buildBody    string
	buildErr     error
	inspectImage map[string]types.ImageInspect
	createCalls  []containerCreateCall
	createErr    error
	startErr     error
	waitCalls    map[string][]waitCall
	logs         map[string][]byte
	inspect      map[string]types.ContainerJSON
	copyFromData map[string][]byte
	copyFromStat map[string]types.ContainerPathStat
	copyFromErr  error
	stopCalls    []string
	removeCalls  []string
	events       []string
	closed       bool
}

type imageBuildCall struct {
	options types.ImageBuildOptions
	context []byte
}

type containerCreateCall struct {
	id         string
	name       string
	config     *container.Config
	hostConfig *container.HostConfig
}

type waitCall struct {
	status *container.WaitResponse
	err    error
	block  bool
}

type notFoundError struct{ msg string }

func (e notFoundError) Error() string { return e.msg }
func (e notFoundError) NotFound()     {}

func newFakeDockerClient() *fakeDockerClient {
	return &fakeDockerClient{
		inspectImage: make(map[string]types.ImageInspect),
		waitCalls:    make(map[string][]waitCall),
		logs:         make(map[string][]byte),
		inspect:      make(map[string]types.ContainerJSON),
		copyFromData: make(map[string][]byte),
		copyFromStat: make(map[string]types.ContainerPathStat),
	}
}

func (f *fakeDockerClient) record(event string) {
	f.events = append(f.events, event)
}

func (f *fakeDockerClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	data, err := io.ReadAll(buildContext)
	if err != nil {
		return types.ImageBuildResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildCalls = append(f.buildCalls, imageBuildCall{options: options, context: data})
	if f.buildErr != nil {
		return types.ImageBuildResponse{}, f.buildErr
	}
	return types.ImageBuildResponse{Body: io.NopCloser(bytes.NewBufferString(f.buildBody))}, nil
}

func (f *fakeDockerClient) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.inspectImage[imageID]
	if !ok {
		return types.ImageInspect{}, nil, notFoundError{msg: "no such image: " + imageID}
	}
	return info, nil, nil
}

func (f *fakeDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	id := fmt.Sprintf("container-%d", f.nextID)
	f.nextID++
	f.createCalls = append(f.createCalls, containerCreateCall{id: id, name: containerName, config: config, hostConfig: hostConfig})
	f.record("create " + id)
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start " + containerID)
	return f.startErr
}

func (f *fakeDockerClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	f.mu.Lock()
	calls := f.waitCalls[containerID]
	if len(calls) == 0 {
		f.mu.Unlock()
		return statusCh, errCh
	}
	call := calls[0]
	f.waitCalls[containerID] = calls[1:]
	f.mu.Unlock()

	if call.block {
		return statusCh, errCh
	}
	if call.status != nil {
		statusCh <- *call.status
	}
	if call.err != nil {
		errCh <- call.err
	}
	return statusCh, errCh
}

func (f *fakeDockerClient) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inspect[containerID], nil
}

func (f *fakeDockerClient) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	data := f.logs[containerID]
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeDockerClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, containerID)
	f.record("stop " + containerID)
	return nil
}

func (f *fakeDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !options.Force {
		return errors.New("remove without force")
	}
	f.removeCalls = append(f.removeCalls, containerID)
	f.record("remove " + containerID)
	return nil
}

func (f *fakeDockerClient) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, types.ContainerPathStat, error) {
	key := copyKey(containerID, srcPath)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("copy " + containerID)
	if f.copyFromErr != nil {
		return nil, types.ContainerPathStat{}, f.copyFromErr
	}
	data, ok := f.copyFromData[key]
	if !ok {
		return nil, types.ContainerPathStat{}, notFoundError{msg: "could not find the file " + srcPath}
	}
	return io.NopCloser(bytes.NewReader(data)), f.copyFromStat[key], nil
}

func (f *fakeDockerClient) setWaitSequence(containerID string, calls ...waitCall) {
	f.mu.Lock()
	f.waitCalls[containerID] = append([]waitCall{}, calls...)
	f.mu.Unlock()
}

func (f *fakeDockerClient) setLogs(containerID string, stdout, stderr string) {
	var buf bytes.Buffer
	if stdout != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
		_, _ = w.Write([]byte(stdout))
	}
	if stderr != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
		_, _ = w.Write([]byte(stderr))
	}
	f.mu.Lock()
	f.logs[containerID] = buf.Bytes()
	f.mu.Unlock()
}

func (f *fakeDockerClient) setInspect(containerID string, info types.ContainerJSON) {
	f.mu.Lock()
	f.inspect[containerID] = info
	f.mu.Unlock()
}

func (f *fakeDockerClient) setCopyFrom(containerID, srcPath string, data []byte, stat types.ContainerPathStat) {
	f.mu.Lock()
	key := copyKey(containerID, srcPath)
	f.copyFromData[key] = data
	f.copyFromStat[key] = stat
	f.mu.Unlock()
}

func (f *fakeDockerClient) recordedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func copyKey(containerID, srcPath string) string {
	return containerID + "|" + srcPath
}
