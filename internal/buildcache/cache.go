// Package buildcache shares one image build across concurrent submissions.
//
// The cache keys a build by identity (image name and build context path). It
// does not hash the context contents, so edits to the context after a
// successful build are not noticed until a later build fails or the process
// restarts.
package buildcache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

// State is the lifecycle of the cached image.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

const flightKey = "image"

var _ ports.ImageProvider = (*Cache)(nil)

// Snapshot is a point-in-time copy of the build state.
type Snapshot struct {
	State     State
	ImageName string
	ImageID   string
	Err       error
	Builds    int
}

// Cache runs at most one build at a time and hands every concurrent caller the
// same outcome. A failed build is retried only when the next caller arrives.
type Cache struct {
	builder ports.ImageBuilder
	logger  *zap.Logger
	group   singleflight.Group

	mu         sync.Mutex
	state      State
	imageName  string
	contextDir string
	imageID    string
	lastErr    error
	builds     int
}

// New wraps builder with single-flight caching.
func New(builder ports.ImageBuilder, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		builder: builder,
		logger:  logger,
		state:   StateNotStarted,
	}
}

// Ensure returns the id of a ready image for (imageName, contextPath),
// building it if no ready image with that identity exists. Callers that arrive
// while a build is running wait for it instead of starting another one.
func (c *Cache) Ensure(ctx context.Context, imageName, contextPath string) (string, error) {
	if id, ok := c.cached(imageName, contextPath); ok {
		return id, nil
	}

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.build(imageName, contextPath)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for image build: %w", ctx.Err())
	}
}

// Snapshot reports the current state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		ImageName: c.imageName,
		ImageID:   c.imageID,
		Err:       c.lastErr,
		Builds:    c.builds,
	}
}

func (c *Cache) cached(imageName, contextPath string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReady && c.imageName == imageName && c.contextDir == contextPath {
		return c.imageID, true
	}
	return "", false
}

// build runs inside the single flight. It re-checks the cache because a caller
// may have missed the cache just before a previous flight published its result.
func (c *Cache) build(imageName, contextPath string) (string, error) {
	c.mu.Lock()
	if c.state == StateReady && c.imageName == imageName && c.contextDir == contextPath {
		id := c.imageID
		c.mu.Unlock()
		return id, nil
	}
	previous := c.state
	c.state = StateInProgress
	c.imageName = imageName
	c.contextDir = contextPath
	c.imageID = ""
	c.builds++
	attempt := c.builds
	c.mu.Unlock()

	logger := c.logger.With(zap.String("image", imageName), zap.Int("attempt", attempt))
	logger.Info("building analysis image", zap.String("context", contextPath), zap.String("previous_state", string(previous)))

	// Shared by every waiter; detached from the context of the caller that started it.
	id, err := c.builder.Build(context.Background(), imageName, contextPath)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		logger.Error("analysis image build failed", zap.Error(err))
		return "", err
	}
	c.state = StateReady
	c.imageID = id
	c.lastErr = nil
	logger.Info("analysis image ready", zap.String("image_id", id))
	return id, nil
}
